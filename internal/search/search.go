// Package search queries web search providers in priority order.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by a provider that lacks credentials and
// should be skipped without recording an error.
var ErrNotConfigured = errors.New("search provider not configured")

var errNoQuery = errors.New("No query provided")

const userAgent = "LocalChat/1.0"

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider is one search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// FallbackError collects the errors of every provider that was tried.
type FallbackError struct {
	Errors []error
}

func (e *FallbackError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e *FallbackError) Unwrap() []error { return e.Errors }

// Chain tries providers in order; the first non-empty result set wins.
type Chain struct {
	providers []Provider
	log       *zap.Logger
}

func NewChain(log *zap.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{providers: providers, log: log}
}

// Providers lists the provider names in order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Search never panics on provider failure. When every provider fails or comes
// back empty, it returns no results and a *FallbackError (nil if nothing was
// actually attempted).
func (c *Chain) Search(ctx context.Context, query string, max int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errNoQuery
	}
	if max <= 0 {
		max = 10
	}

	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		results, err := p.Search(ctx, query, max)
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil {
			c.log.Debug("search provider failed", zap.String("provider", p.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if len(results) > 0 {
			if len(results) > max {
				results = results[:max]
			}
			return results, nil
		}
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return nil, &FallbackError{Errors: errs}
}

// ========== HTTP helpers ==========

func httpClient(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func statusError(resp *http.Response) error {
	return fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), resp.Request.URL.Redacted())
}
