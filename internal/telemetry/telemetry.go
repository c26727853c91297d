// Package telemetry records per-request diagnostics (the dbg_* session
// sub-state) through an injectable Observer.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Observer receives diagnostic events from the request pipeline.
type Observer interface {
	Log(msg string)
	Error(msg string)
	Timing(label string, d time.Duration)
	Fetch(url string, err error)
	Set(key string, value any)
	Evidence(text string)
	Prompt(text string)
}

type Timing struct {
	Label   string  `json:"label"`
	Seconds float64 `json:"seconds"`
}

type Fetch struct {
	URL   string  `json:"url"`
	Error *string `json:"error"`
}

// Trace is the diagnostic sub-state persisted alongside a session.
type Trace struct {
	Log      []string       `json:"dbg_log"`
	Errors   []string       `json:"dbg_errors"`
	Timings  []Timing       `json:"dbg_timings"`
	Fetches  []Fetch        `json:"dbg_fetches"`
	Evidence string         `json:"dbg_evidence"`
	Prompt   string         `json:"dbg_prompt"`
	Data     map[string]any `json:"dbg_data"`
}

// EnsureDefaults fills nil collections so the JSON shape is stable.
func (t *Trace) EnsureDefaults() {
	if t.Log == nil {
		t.Log = []string{}
	}
	if t.Errors == nil {
		t.Errors = []string{}
	}
	if t.Timings == nil {
		t.Timings = []Timing{}
	}
	if t.Fetches == nil {
		t.Fetches = []Fetch{}
	}
	if t.Data == nil {
		t.Data = map[string]any{}
	}
}

// ========== Recorder ==========

// Recorder buffers events in memory until they are applied to a Trace.
type Recorder struct {
	mu    sync.Mutex
	trace Trace
	// evidence and prompt are last-write-wins; track whether they were set
	hasEvidence, hasPrompt bool
}

func NewRecorder() *Recorder {
	r := &Recorder{}
	r.trace.EnsureDefaults()
	return r
}

func (r *Recorder) Log(msg string) {
	r.mu.Lock()
	r.trace.Log = append(r.trace.Log, msg)
	r.mu.Unlock()
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	r.trace.Errors = append(r.trace.Errors, msg)
	r.mu.Unlock()
}

func (r *Recorder) Timing(label string, d time.Duration) {
	r.mu.Lock()
	r.trace.Timings = append(r.trace.Timings, Timing{Label: label, Seconds: d.Seconds()})
	r.mu.Unlock()
}

func (r *Recorder) Fetch(url string, err error) {
	f := Fetch{URL: url}
	if err != nil {
		s := err.Error()
		f.Error = &s
	}
	r.mu.Lock()
	r.trace.Fetches = append(r.trace.Fetches, f)
	r.mu.Unlock()
}

func (r *Recorder) Set(key string, value any) {
	r.mu.Lock()
	r.trace.Data[key] = value
	r.mu.Unlock()
}

func (r *Recorder) Evidence(text string) {
	r.mu.Lock()
	r.trace.Evidence, r.hasEvidence = text, true
	r.mu.Unlock()
}

func (r *Recorder) Prompt(text string) {
	r.mu.Lock()
	r.trace.Prompt, r.hasPrompt = text, true
	r.mu.Unlock()
}

// Snapshot returns a copy of what has been recorded so far.
func (r *Recorder) Snapshot() Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Trace{
		Log:      append([]string{}, r.trace.Log...),
		Errors:   append([]string{}, r.trace.Errors...),
		Timings:  append([]Timing{}, r.trace.Timings...),
		Fetches:  append([]Fetch{}, r.trace.Fetches...),
		Evidence: r.trace.Evidence,
		Prompt:   r.trace.Prompt,
		Data:     make(map[string]any, len(r.trace.Data)),
	}
	for k, v := range r.trace.Data {
		out.Data[k] = v
	}
	return out
}

// ApplyTo merges buffered events into dst and clears the buffer.
func (r *Recorder) ApplyTo(dst *Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst.EnsureDefaults()
	dst.Log = append(dst.Log, r.trace.Log...)
	dst.Errors = append(dst.Errors, r.trace.Errors...)
	dst.Timings = append(dst.Timings, r.trace.Timings...)
	dst.Fetches = append(dst.Fetches, r.trace.Fetches...)
	for k, v := range r.trace.Data {
		dst.Data[k] = v
	}
	if r.hasEvidence {
		dst.Evidence = r.trace.Evidence
	}
	if r.hasPrompt {
		dst.Prompt = r.trace.Prompt
	}
	r.trace = Trace{}
	r.trace.EnsureDefaults()
	r.hasEvidence, r.hasPrompt = false, false
}

// ========== Zap ==========

type zapObserver struct{ log *zap.Logger }

// NewZap mirrors observer events into a structured logger at debug level.
func NewZap(l *zap.Logger) Observer {
	if l == nil {
		l = zap.NewNop()
	}
	return zapObserver{log: l}
}

func (z zapObserver) Log(msg string)   { z.log.Debug(msg) }
func (z zapObserver) Error(msg string) { z.log.Warn("pipeline error", zap.String("error", msg)) }
func (z zapObserver) Timing(label string, d time.Duration) {
	z.log.Debug("timing", zap.String("label", label), zap.Duration("elapsed", d))
}
func (z zapObserver) Fetch(url string, err error) {
	z.log.Debug("fetch", zap.String("url", url), zap.Error(err))
}
func (z zapObserver) Set(key string, value any) { z.log.Debug("debug data", zap.String("key", key), zap.Any("value", value)) }
func (z zapObserver) Evidence(text string) { z.log.Debug("evidence", zap.Int("bytes", len(text))) }
func (z zapObserver) Prompt(text string) { z.log.Debug("prompt built", zap.Int("bytes", len(text))) }

// ========== Composition ==========

type multi []Observer

// Multi fans events out to every non-nil observer.
func Multi(obs ...Observer) Observer {
	var m multi
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multi) Log(msg string) {
	for _, o := range m {
		o.Log(msg)
	}
}
func (m multi) Error(msg string) {
	for _, o := range m {
		o.Error(msg)
	}
}
func (m multi) Timing(label string, d time.Duration) {
	for _, o := range m {
		o.Timing(label, d)
	}
}
func (m multi) Fetch(url string, err error) {
	for _, o := range m {
		o.Fetch(url, err)
	}
}
func (m multi) Set(key string, value any) {
	for _, o := range m {
		o.Set(key, value)
	}
}
func (m multi) Evidence(text string) {
	for _, o := range m {
		o.Evidence(text)
	}
}
func (m multi) Prompt(text string) {
	for _, o := range m {
		o.Prompt(text)
	}
}

type nop struct{}

// Nop discards everything.
var Nop Observer = nop{}

func (nop) Log(string) {}
func (nop) Error(string) {}
func (nop) Timing(string, time.Duration) {}
func (nop) Fetch(string, error) {}
func (nop) Set(string, any) {}
func (nop) Evidence(string) {}
func (nop) Prompt(string) {}

// Span returns a func that records the elapsed time under label when called.
func Span(o Observer, label string) func() {
	start := time.Now()
	return func() { o.Timing(label, time.Since(start)) }
}
