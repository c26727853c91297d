package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"localchat/internal/config"
)

// ErrMissingAPIKey means a cloud endpoint was selected but no Ollama key is configured.
var ErrMissingAPIKey = errors.New("OLLAMA_API_KEY is required for the configured Ollama cloud endpoint")

type Kind string

const (
	KindOllama Kind = "ollama"
	KindOpenAI Kind = "openai"
)

// Endpoint describes where and how to send a generation request.
type Endpoint struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"-"`
	Model   string            `json:"model"`
	Kind    Kind              `json:"kind"`
	Cloud   bool              `json:"cloud"`
}

// KeyGetter is satisfied by config.KeyStore.
type KeyGetter interface {
	Get(name string) string
}

// Resolver picks the model endpoint for each request.
type Resolver struct {
	Host          string
	LocalBase     string
	CloudBase     string
	LocalModel    string
	CloudModel    string
	StartupWait   time.Duration
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration

	// OpenAI, when set, bypasses Ollama selection entirely.
	OpenAI *OpenAITarget

	ForcedModel func() string
	Keys        KeyGetter
	Client      *http.Client

	log   *zap.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type OpenAITarget struct {
	BaseURL string
	Model   string
}

// NewResolver wires a Resolver from configuration.
func NewResolver(cfg *config.Config, keys KeyGetter, log *zap.Logger) *Resolver {
	r := &Resolver{
		Host:          cfg.Ollama.Host,
		LocalBase:     cfg.Ollama.LocalBase,
		CloudBase:     cfg.Ollama.CloudBase,
		LocalModel:    cfg.Ollama.LocalModel,
		CloudModel:    cfg.Ollama.CloudModel,
		StartupWait:   cfg.Ollama.StartupWait,
		ProbeTimeout:  800 * time.Millisecond,
		ProbeInterval: time.Second,
		ForcedModel:   cfg.ForcedModel,
		Keys:          keys,
		Client:        &http.Client{},
		log:           log,
	}
	if cfg.UseOpenAI() {
		r.OpenAI = &OpenAITarget{BaseURL: cfg.OpenAI.BaseURL, Model: cfg.OpenAI.Model}
	}
	return r
}

func (r *Resolver) logger() *zap.Logger {
	if r.log == nil {
		return zap.NewNop()
	}
	return r.log
}

func (r *Resolver) key(name string) string {
	if r.Keys == nil {
		return ""
	}
	return r.Keys.Get(name)
}

func (r *Resolver) localModel() string {
	if r.LocalModel == "" {
		return config.LocalModel
	}
	return r.LocalModel
}

func (r *Resolver) cloudModel() string {
	if r.CloudModel == "" {
		return config.CloudModel
	}
	return r.CloudModel
}

func (r *Resolver) localBase() string {
	if r.LocalBase == "" {
		return NormalizeBase(config.DefaultLocalBase)
	}
	return NormalizeBase(r.LocalBase)
}

func (r *Resolver) cloudBase() string {
	if r.CloudBase == "" {
		return NormalizeBase(config.DefaultCloudBase)
	}
	return NormalizeBase(r.CloudBase)
}

func (r *Resolver) authHeaders(base string, require bool) (map[string]string, error) {
	if !require && !needsKey(base) {
		return map[string]string{}, nil
	}
	k := r.key(config.KeyOllama)
	if k == "" {
		return nil, ErrMissingAPIKey
	}
	return map[string]string{"Authorization": "Bearer " + k}, nil
}

func (r *Resolver) ollama(base, model string, cloud bool) (Endpoint, error) {
	headers, err := r.authHeaders(base, cloud)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{URL: GenerateURL(base), Headers: headers, Model: model, Kind: KindOllama, Cloud: cloud}, nil
}

// Resolve selects an endpoint: OLLAMA_HOST override, then a forced model,
// then a reachable local daemon (optionally waiting StartupWait for it), and
// finally the cloud.
func (r *Resolver) Resolve(ctx context.Context) (Endpoint, error) {
	if r.OpenAI != nil {
		headers := map[string]string{}
		if k := r.key(config.KeyOpenAI); k != "" {
			headers["Authorization"] = "Bearer " + k
		}
		return Endpoint{URL: r.OpenAI.BaseURL, Headers: headers, Model: r.OpenAI.Model, Kind: KindOpenAI, Cloud: true}, nil
	}

	forced := ""
	if r.ForcedModel != nil {
		forced = strings.TrimSpace(r.ForcedModel())
	}

	if r.Host != "" {
		base := NormalizeBase(r.Host)
		cloud := strings.Contains(base, "ollama.com") && !IsLocalBase(base)
		model := forced
		if model == "" {
			model = r.localModel()
			if cloud {
				model = r.cloudModel()
			}
		}
		return r.ollama(base, model, cloud)
	}

	if forced != "" {
		switch {
		case strings.EqualFold(forced, "cloud") || forced == r.cloudModel():
			return r.ollama(r.cloudBase(), r.cloudModel(), true)
		case strings.EqualFold(forced, "local") || forced == r.localModel():
			return r.ollama(r.localBase(), r.localModel(), false)
		}
		if r.probe(ctx, r.localBase()) {
			return r.ollama(r.localBase(), forced, false)
		}
		return r.ollama(r.cloudBase(), forced, true)
	}

	if r.probe(ctx, r.localBase()) {
		return r.ollama(r.localBase(), r.localModel(), false)
	}

	if r.StartupWait > 0 {
		r.logger().Info("waiting for local Ollama", zap.Duration("grace", r.StartupWait))
		if r.waitForLocal(ctx) {
			return r.ollama(r.localBase(), r.localModel(), false)
		}
	}

	return r.ollama(r.cloudBase(), r.cloudModel(), true)
}

// waitForLocal re-probes the local daemon every ProbeInterval until the
// grace period elapses or ctx ends.
func (r *Resolver) waitForLocal(ctx context.Context) bool {
	now := r.now
	if now == nil {
		now = time.Now
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	interval := r.ProbeInterval
	if interval <= 0 {
		interval = time.Second
	}

	deadline := now().Add(r.StartupWait)
	for now().Before(deadline) {
		if err := sleep(ctx, interval); err != nil {
			return false
		}
		if r.probe(ctx, r.localBase()) {
			return true
		}
	}
	return false
}

func (r *Resolver) probe(ctx context.Context, base string) bool {
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, VersionURL(base), nil)
	if err != nil {
		return false
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Describe renders an endpoint for logs and the route command.
func Describe(ep Endpoint) string {
	where := "local"
	if ep.Cloud {
		where = "cloud"
	}
	return fmt.Sprintf("%s -> %s (%s, %s)", ep.Model, ep.URL, ep.Kind, where)
}
