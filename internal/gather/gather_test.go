package gather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localchat/internal/search"
	"localchat/internal/telemetry"
)

type fakeSearcher struct {
	results  []search.Result
	err      error
	calls    int
	deadline time.Time
}

func (f *fakeSearcher) Search(ctx context.Context, query string, max int) ([]search.Result, error) {
	f.calls++
	f.deadline, _ = ctx.Deadline()
	return f.results, f.err
}

// ========== Heuristics ==========

func TestNeedsSearch(t *testing.T) {
	tests := map[string]bool{
		"What's the weather today?":           true,
		"Explain recursion":                   false,
		"who is the CEO of Acme in 2024":      true,
		"summarize https://example.com/post":  true,
		"what happened in 2022":               false,
		"events in 2027":                      true,
		"LATEST release":                      true,
		"the year 20245 is far away":          false,
	}
	for prompt, want := range tests {
		assert.Equal(t, want, NeedsSearch(prompt), "NeedsSearch(%q)", prompt)
	}
}

func TestNeedsLocation(t *testing.T) {
	assert.True(t, NeedsLocation("coffee shops near me"))
	assert.True(t, NeedsLocation("what is at 37.7749, -122.4194"))
	assert.False(t, NeedsLocation("explain goroutines"))
}

// ========== Gather ==========

func TestGather_SearchOffNeverCallsProvider(t *testing.T) {
	f := &fakeSearcher{results: []search.Result{{Title: "x"}}}
	res := New(f).Gather(context.Background(), Request{
		Prompt:    "latest news",
		UseSearch: false,
		Deadline:  time.Now().Add(time.Minute),
	}, nil)
	assert.Equal(t, 0, f.calls)
	assert.Empty(t, res.SearchContext)
	assert.Empty(t, res.WebContext)
	assert.False(t, res.TimedOut)
	assert.NoError(t, res.Err)
}

func TestGather_HeuristicSkips(t *testing.T) {
	f := &fakeSearcher{}
	rec := telemetry.NewRecorder()
	res := New(f).Gather(context.Background(), Request{Prompt: "Explain recursion", UseSearch: true, Deadline: time.Now().Add(time.Minute)}, rec)
	assert.Equal(t, 0, f.calls)
	assert.NoError(t, res.Err)
	assert.Equal(t, map[string]bool{"requested": true, "performed": false}, rec.Snapshot().Data["search_decision"])
}

func TestGather_DeadlinePassed(t *testing.T) {
	f := &fakeSearcher{}
	res := New(f).Gather(context.Background(), Request{
		Prompt:    "weather today",
		UseSearch: true,
		Deadline:  time.Now().Add(-time.Second),
	}, nil)
	assert.Equal(t, 0, f.calls)
	assert.True(t, res.TimedOut)
	assert.ErrorIs(t, res.Err, ErrBudgetExceeded)
	assert.Empty(t, res.SearchContext)
}

func TestGather_ProviderWindowClamped(t *testing.T) {
	f := &fakeSearcher{results: []search.Result{{Title: "t", URL: "u", Snippet: "s"}}}
	g := New(f)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	before := time.Now()
	g.Gather(context.Background(), Request{Prompt: "news", UseSearch: true, Deadline: now.Add(3 * time.Minute)}, nil)
	require.Equal(t, 1, f.calls)
	window := f.deadline.Sub(before)
	assert.LessOrEqual(t, window, MaxProviderWindow+time.Second)
	assert.Greater(t, window, MaxProviderWindow-5*time.Second)

	g.Gather(context.Background(), Request{Prompt: "news", UseSearch: true, Deadline: now.Add(5 * time.Second)}, nil)
	assert.LessOrEqual(t, f.deadline.Sub(time.Now()), 5*time.Second)
}

func TestGather_FormatsAndRecordsEvidence(t *testing.T) {
	f := &fakeSearcher{results: []search.Result{
		{Title: "Title one", URL: "https://a", Snippet: "Snippet one"},
		{Title: "Only title", URL: ""},
		{Title: "T3", URL: " https://c ", Snippet: "  "},
	}}
	rec := telemetry.NewRecorder()
	res := New(f).Gather(context.Background(), Request{Prompt: "stock prices", UseSearch: true, Deadline: time.Now().Add(time.Minute)}, rec)

	want := "SEARCH RESULT 1: Snippet one (https://a)\n" +
		"SEARCH RESULT 2: Only title\n" +
		"SEARCH RESULT 3: T3 (https://c)"
	assert.Equal(t, want, res.SearchContext)
	snap := rec.Snapshot()
	assert.Equal(t, want, snap.Evidence)
	require.Len(t, snap.Timings, 1)
	assert.Equal(t, "search", snap.Timings[0].Label)
}

func TestGather_ProviderErrorIsData(t *testing.T) {
	f := &fakeSearcher{err: errors.New("BRAVE_API_KEY is not set; 503")}
	rec := telemetry.NewRecorder()
	res := New(f).Gather(context.Background(), Request{Prompt: "breaking news", UseSearch: true, Deadline: time.Now().Add(time.Minute)}, rec)
	assert.EqualError(t, res.Err, "BRAVE_API_KEY is not set; 503")
	assert.False(t, res.TimedOut)
	assert.Empty(t, res.SearchContext)
	assert.Equal(t, []string{"BRAVE_API_KEY is not set; 503"}, rec.Snapshot().Errors)
}
