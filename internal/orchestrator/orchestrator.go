// Package orchestrator runs the send pipeline: session update, context
// gathering, prompt assembly, endpoint selection, streamed generation and
// persistence of the answer.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"localchat/internal/chat"
	"localchat/internal/config"
	"localchat/internal/endpoint"
	"localchat/internal/gather"
	"localchat/internal/llm"
	"localchat/internal/prompt"
	"localchat/internal/telemetry"
)

// ErrJobNotFound is returned by Job for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ValidationError reports a malformed send request.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ========== Collaborators ==========

type Sessions interface {
	Get(id string) (chat.State, error)
	Update(id string, fn func(*chat.State) error) (chat.State, error)
	UpdateExisting(id string, fn func(*chat.State) error) (chat.State, error)
}

type Gatherer interface {
	Gather(ctx context.Context, req gather.Request, obs telemetry.Observer) gather.Result
}

type Resolver interface {
	Resolve(ctx context.Context) (endpoint.Endpoint, error)
}

// TurnIndexer receives every turn appended to a session.
type TurnIndexer interface {
	IndexTurn(sessionID string, position int, t chat.Turn) error
}

// GeneratorFactory builds the streaming backend for a resolved endpoint.
type GeneratorFactory func(ep endpoint.Endpoint) (llm.Generator, error)

type Options struct {
	Sessions     Sessions
	Gatherer     Gatherer
	Resolver     Resolver
	NewGenerator GeneratorFactory
	Indexer      TurnIndexer
	Prompt       prompt.Builder
	Log          *zap.Logger

	SearchBudget    time.Duration
	GenerateTimeout time.Duration
	HistoryLimit    int
	UploadsDir      string
}

type Orchestrator struct {
	sessions     Sessions
	gatherer     Gatherer
	resolver     Resolver
	newGenerator GeneratorFactory
	indexer      TurnIndexer
	builder      prompt.Builder
	log          *zap.Logger
	validate     *validator.Validate

	budget       time.Duration
	genTimeout   time.Duration
	historyLimit int
	uploadsDir   string

	now func() time.Time
	wg  sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		sessions:     opts.Sessions,
		gatherer:     opts.Gatherer,
		resolver:     opts.Resolver,
		newGenerator: opts.NewGenerator,
		indexer:      opts.Indexer,
		builder:      opts.Prompt,
		log:          opts.Log,
		validate:     validator.New(),
		budget:       opts.SearchBudget,
		genTimeout:   opts.GenerateTimeout,
		historyLimit: opts.HistoryLimit,
		uploadsDir:   opts.UploadsDir,
		now:          time.Now,
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.budget <= 0 {
		o.budget = config.SearchTimeBudget
	}
	if o.genTimeout <= 0 {
		o.genTimeout = config.GenerateTimeout
	}
	if o.builder.FormatHint == "" {
		o.builder = prompt.NewBuilder(false)
	}
	if o.newGenerator == nil {
		o.newGenerator = func(ep endpoint.Endpoint) (llm.Generator, error) {
			return llm.New(ep, nil)
		}
	}
	return o
}

// Wait blocks until every background generation has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// ========== Requests ==========

// SendRequest is the body of /api/send and /api/send_async.
type SendRequest struct {
	Prompt         string          `json:"prompt" validate:"required"`
	SessionID      string          `json:"session_id" validate:"required"`
	UseSearch      bool            `json:"use_search"`
	Location       json.RawMessage `json:"location,omitempty"`
	LocationFailed bool            `json:"location_failed"`
}

func (o *Orchestrator) check(req *SendRequest) error {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := o.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Prompt":
				return &ValidationError{Msg: "prompt is required"}
			case "SessionID":
				return &ValidationError{Msg: chat.ErrSessionIDRequired.Error()}
			}
		}
		return &ValidationError{Msg: err.Error()}
	}
	return nil
}

// run carries what the pipeline needs after the session was updated.
type run struct {
	jobID     string
	sessionID string
	prompt    string
	state     chat.State
	userPos   int
}

// prepare applies the request to the session (flags, location, user turn and
// a running job record) and persists it.
func (o *Orchestrator) prepare(req SendRequest) (*run, error) {
	if err := o.check(&req); err != nil {
		return nil, err
	}
	useSearch := req.UseSearch && !req.LocationFailed
	loc, locUpdate := chat.DecodeLocation(req.Location)
	jobID := uuid.NewString()
	now := o.now().UTC()

	st, err := o.sessions.Update(req.SessionID, func(s *chat.State) error {
		s.UseSearch = useSearch
		s.AutoFetchTopResult = useSearch
		s.ApplyLocation(loc, locUpdate)
		s.AppendTurn(chat.RoleUser, req.Prompt)
		s.Jobs[jobID] = &chat.Job{
			Prompt:    req.Prompt,
			Status:    chat.JobRunning,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.PendingRequests[jobID] = chat.PendingRequest{Prompt: req.Prompt, StartedAt: now}
		return nil
	})
	if errors.Is(err, chat.ErrSessionIDRequired) {
		return nil, err
	}
	if err != nil {
		o.log.Error("failed to save session", zap.String("session", req.SessionID), zap.Error(err))
	}

	r := &run{
		jobID:     jobID,
		sessionID: chat.SanitizeID(req.SessionID),
		prompt:    req.Prompt,
		state:     st,
		userPos:   len(st.History) - 1,
	}
	o.index(r.sessionID, r.userPos, chat.Turn{Role: chat.RoleUser, Text: req.Prompt})
	return r, nil
}

// Send validates and records the request, then streams the pipeline's events.
// The channel starts with the job event, ends with exactly one final or error
// event and is then closed. Generation continues when ctx ends so the answer
// is still persisted; events produced after that are dropped.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (<-chan Event, error) {
	r, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	events := make(chan Event, 64)
	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(events)
		o.execute(ctx, r, emit)
	}()
	return events, nil
}

// SendAsync runs the same pipeline without a stream and returns the job id
// to poll.
func (o *Orchestrator) SendAsync(ctx context.Context, req SendRequest) (string, error) {
	r, err := o.prepare(req)
	if err != nil {
		return "", err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(ctx, r, func(Event) {})
	}()
	return r.jobID, nil
}

// Job returns a copy of a job record.
func (o *Orchestrator) Job(sessionID, jobID string) (chat.Job, error) {
	st, err := o.sessions.Get(sessionID)
	if err != nil {
		return chat.Job{}, err
	}
	j, ok := st.Jobs[jobID]
	if !ok {
		return chat.Job{}, ErrJobNotFound
	}
	return *j, nil
}

// ========== Pipeline ==========

func (o *Orchestrator) execute(reqCtx context.Context, r *run, emit func(Event)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), o.genTimeout)
	defer cancel()

	log := o.log.With(zap.String("session", r.sessionID), zap.String("job", r.jobID))
	rec := telemetry.NewRecorder()
	obs := telemetry.Multi(rec, telemetry.NewZap(log))
	st := r.state

	emit(Event{Type: EventJob, JobID: r.jobID})
	obs.Log(fmt.Sprintf("Send called session=%s prompt_len=%d use_search=%t", r.sessionID, len(r.prompt), st.UseSearch))
	emit(status("Preparing request…"))
	if st.UseSearch {
		emit(status("Searching for data…"))
	} else {
		emit(status("Skipping search; compiling context…"))
	}

	gathered := o.gatherer.Gather(ctx, gather.Request{
		Prompt:    r.prompt,
		UseSearch: st.UseSearch,
		Deadline:  o.now().Add(o.budget),
	}, obs)
	if gathered.Err != nil {
		obs.Set("search_error", gathered.Err.Error())
		emit(notice("Search unavailable: " + gathered.Err.Error()))
	} else {
		obs.Set("search_error", nil)
	}
	if gathered.TimedOut {
		obs.Log("Search timed out before completion")
		emit(notice(fmt.Sprintf("Search/fetch capped at %d minute(s).", int(o.budget/time.Minute))))
	}
	if st.UserLocation == nil && gather.NeedsLocation(r.prompt) {
		emit(notice(gather.LocationRequestMessage))
	}

	emit(status("Building prompt…"))
	fileCtx := prompt.WithLocation(prompt.LocationContext(st.UserLocation), st.FileContext)
	chatCtx := prompt.BuildChatContext(st.History, o.historyLimit)
	full := o.builder.Build(fileCtx, gathered.SearchContext, gathered.WebContext, chatCtx)
	obs.Prompt(full)

	raw, err := o.generate(ctx, full, obs, emit)
	emit(status("Finalizing output…"))
	if err != nil {
		obs.Error(err.Error())
		o.fail(r, rec, err)
		emit(Event{Type: EventError, Text: err.Error()})
		return
	}

	thinking, answer, ok := prompt.SplitThinking(raw)
	var thinkingPtr *string
	if ok {
		obs.Set("model_thinking", thinking)
		obs.Log(fmt.Sprintf("Model thinking captured (%d chars)", len(thinking)))
		thinkingPtr = &thinking
	} else {
		answer = raw
	}

	pos := o.complete(r, rec, raw, answer, thinkingPtr)
	if pos >= 0 {
		o.index(r.sessionID, pos, chat.Turn{Role: chat.RoleAssistant, Text: raw})
	}
	emit(status("Done"))
	emit(Event{Type: EventFinal, Raw: raw, Answer: answer, Thinking: thinkingPtr})
}

// generate resolves the endpoint and relays fragments as token events while
// accumulating them.
func (o *Orchestrator) generate(ctx context.Context, fullPrompt string, obs telemetry.Observer, emit func(Event)) (string, error) {
	ep, err := o.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	gen, err := o.newGenerator(ep)
	if err != nil {
		return "", err
	}
	obs.Log(fmt.Sprintf("Streaming request to model=%s url=%s", ep.Model, ep.URL))
	emit(status("Generating response…"))

	done := telemetry.Span(obs, "generate")
	defer done()

	frags := make(chan string, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- gen.Stream(ctx, fullPrompt, frags)
		close(frags)
	}()

	var sb strings.Builder
	n := 0
	for frag := range frags {
		sb.WriteString(frag)
		n++
		if n%50 == 0 {
			obs.Log(fmt.Sprintf("Streaming progress: %d chunks", n))
		}
		emit(Event{Type: EventToken, Text: frag})
	}
	return sb.String(), <-errc
}

// complete appends the assistant turn, closes the job and returns the
// position of the new turn, or -1 when the session could not be updated.
func (o *Orchestrator) complete(r *run, rec *telemetry.Recorder, raw, answer string, thinking *string) int {
	pos := -1
	_, err := o.sessions.UpdateExisting(r.sessionID, func(s *chat.State) error {
		s.AppendTurn(chat.RoleAssistant, raw)
		pos = len(s.History) - 1
		if j, ok := s.Jobs[r.jobID]; ok {
			j.Status = chat.JobDone
			j.Answer = answer
			j.Raw = raw
			j.Thinking = thinking
			j.UpdatedAt = o.now().UTC()
		}
		delete(s.PendingRequests, r.jobID)
		rec.Log("Streaming finished; response saved to history")
		rec.ApplyTo(&s.Trace)
		return nil
	})
	if err != nil {
		o.saveFailed(r.sessionID, err)
		if errors.Is(err, chat.ErrSessionNotFound) {
			return -1
		}
	}
	return pos
}

func (o *Orchestrator) fail(r *run, rec *telemetry.Recorder, cause error) {
	_, err := o.sessions.UpdateExisting(r.sessionID, func(s *chat.State) error {
		if j, ok := s.Jobs[r.jobID]; ok {
			msg := cause.Error()
			j.Status = chat.JobError
			j.Error = &msg
			j.UpdatedAt = o.now().UTC()
		}
		delete(s.PendingRequests, r.jobID)
		rec.ApplyTo(&s.Trace)
		return nil
	})
	if err != nil {
		o.saveFailed(r.sessionID, err)
	}
}

// saveFailed logs a failed result write. A session deleted mid-generation
// is expected and drops the result.
func (o *Orchestrator) saveFailed(sessionID string, err error) {
	if errors.Is(err, chat.ErrSessionNotFound) {
		o.log.Info("session deleted during generation; result dropped", zap.String("session", sessionID))
		return
	}
	o.log.Error("failed to save session", zap.String("session", sessionID), zap.Error(err))
}

func (o *Orchestrator) index(sessionID string, pos int, t chat.Turn) {
	if o.indexer == nil || pos < 0 {
		return
	}
	if err := o.indexer.IndexTurn(sessionID, pos, t); err != nil {
		o.log.Warn("history index failed", zap.String("session", sessionID), zap.Error(err))
	}
}
