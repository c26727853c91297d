// Package gather decides whether a prompt needs web search and collects the
// search context under the per-request time budget.
package gather

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"localchat/internal/search"
	"localchat/internal/telemetry"
)

// ErrBudgetExceeded is reported when the deadline passed before searching.
var ErrBudgetExceeded = errors.New("search time budget exceeded before starting")

const (
	MaxResults        = 10
	MaxProviderWindow = 30 * time.Second
)

var freshKeywords = []string{
	"today", "latest", "current", "breaking", "news",
	"price", "prices", "stock", "stocks", "weather", "forecast",
	"score", "scores", "schedule", "release date", "who is", "ceo",
}

var (
	yearPattern  = regexp.MustCompile(`\b202[3-9]\b`)
	coordPattern = regexp.MustCompile(`[-+]?\b[0-9]{1,3}\.[0-9]{3,}\b`)
)

var locationKeywords = []string{
	"near me", "nearby", "around me", "closest", "nearest",
	"my location", "where am i", "directions to", "local time",
}

// NeedsSearch is a keyword heuristic for prompts that want fresh information.
func NeedsSearch(prompt string) bool {
	text := strings.ToLower(prompt)
	for _, k := range freshKeywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	if yearPattern.MatchString(text) {
		return true
	}
	return strings.Contains(text, "http://") || strings.Contains(text, "https://")
}

// NeedsLocation guesses whether the answer depends on where the user is.
func NeedsLocation(prompt string) bool {
	text := strings.ToLower(prompt)
	for _, k := range locationKeywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return coordPattern.MatchString(text)
}

// LocationRequestMessage asks the client to share a location.
const LocationRequestMessage = "I don't have access to your device's GPS. " +
	"Please share your location (city/country) or approximate coordinates " +
	"(lat, long) so I can tailor the answer."

// Searcher is satisfied by *search.Chain.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]search.Result, error)
}

type Request struct {
	Prompt    string
	WebHint   string
	UseSearch bool
	Deadline  time.Time
}

// Result carries the search block, the (always empty) web page block, whether
// the budget ran out, and the provider error if any.
type Result struct {
	SearchContext string
	WebContext    string
	TimedOut      bool
	Err           error
	Results       []search.Result
}

type Gatherer struct {
	searcher Searcher
	now      func() time.Time
}

func New(s Searcher) *Gatherer {
	return &Gatherer{searcher: s, now: time.Now}
}

// Gather runs the search (when wanted) and formats the result lines. Errors
// are returned as data; the caller proceeds with whatever context exists.
func (g *Gatherer) Gather(ctx context.Context, req Request, obs telemetry.Observer) Result {
	if obs == nil {
		obs = telemetry.Nop
	}
	var res Result

	perform := req.UseSearch && NeedsSearch(req.Prompt)
	obs.Set("search_decision", map[string]bool{"requested": req.UseSearch, "performed": perform})

	switch {
	case perform:
		remaining := req.Deadline.Sub(g.now())
		if remaining <= 0 {
			res.TimedOut = true
			res.Err = ErrBudgetExceeded
			break
		}
		window := remaining
		if window > MaxProviderWindow {
			window = MaxProviderWindow
		}
		sctx, cancel := context.WithTimeout(ctx, window)
		done := telemetry.Span(obs, "search")
		obs.Log("Searching the web…")
		res.Results, res.Err = g.searcher.Search(sctx, req.Prompt, MaxResults)
		cancel()
		done()

		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
			obs.Error(errText)
		}
		obs.Set("search", map[string]any{"results": res.Results, "error": errText})
		obs.Log(fmt.Sprintf("Search returned %d result(s)", len(res.Results)))
	case req.UseSearch:
		obs.Log("Search skipped: heuristic judged prompt answerable without web search.")
	}

	res.SearchContext = FormatResults(res.Results)
	obs.Evidence(strings.TrimSpace(res.SearchContext))
	return res
}

// FormatResults renders one "SEARCH RESULT n: ..." line per result.
func FormatResults(results []search.Result) string {
	lines := make([]string, 0, len(results))
	for i, r := range results {
		title := strings.TrimSpace(r.Title)
		url := strings.TrimSpace(r.URL)
		display := strings.TrimSpace(r.Snippet)
		if display == "" {
			display = title
		}
		if url != "" {
			display = fmt.Sprintf("%s (%s)", display, url)
		}
		lines = append(lines, fmt.Sprintf("SEARCH RESULT %d: %s", i+1, display))
	}
	return strings.Join(lines, "\n")
}
