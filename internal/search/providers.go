package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ========== Brave ==========

type Brave struct {
	Endpoint string
	Key      func() string
	Client   *http.Client
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if query == "" {
		return nil, errNoQuery
	}
	key := ""
	if b.Key != nil {
		key = b.Key()
	}
	if key == "" {
		return nil, errors.New("BRAVE_API_KEY is not set")
	}

	u, err := url.Parse(b.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("brave endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(max))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Subscription-Token", key)

	resp, err := httpClient(b.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, statusError(resp)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave response: %w", err)
	}

	var results []Result
	for _, item := range payload.Web.Results {
		results = append(results, Result{
			Title:   strings.TrimSpace(item.Title),
			URL:     strings.TrimSpace(item.URL),
			Snippet: strings.TrimSpace(item.Description),
		})
		if len(results) >= max {
			break
		}
	}
	if len(results) == 0 {
		return nil, errors.New("Brave Search returned no results")
	}
	return results, nil
}

// ========== Google Custom Search ==========

const GoogleEndpoint = "https://www.googleapis.com/customsearch/v1"

type Google struct {
	Endpoint string
	Key      func() string
	CX       func() string
	Client   *http.Client
}

func (g *Google) Name() string { return "google" }

func (g *Google) Search(ctx context.Context, query string, max int) ([]Result, error) {
	var key, cx string
	if g.Key != nil {
		key = g.Key()
	}
	if g.CX != nil {
		cx = g.CX()
	}
	if key == "" || cx == "" {
		return nil, ErrNotConfigured
	}

	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = GoogleEndpoint
	}
	num := max
	if num > 10 {
		num = 10
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("key", key)
	params.Set("cx", cx)
	params.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("Google search failed: %w", err)
	}
	resp, err := httpClient(g.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("Google search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("Google search failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("Google search failed: %w", err)
	}
	var results []Result
	for _, item := range payload.Items {
		results = append(results, Result{
			Title:   item.Title,
			URL:     strings.TrimSpace(item.Link),
			Snippet: item.Snippet,
		})
		if len(results) >= max {
			break
		}
	}
	if len(results) == 0 {
		return nil, errors.New("Google search returned no results.")
	}
	return results, nil
}

// ========== DuckDuckGo Instant Answer ==========

type DuckDuckGo struct {
	Endpoint string
	Client   *http.Client
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search reads RelatedTopics; when none carry a link it falls back to a single
// result built from the abstract. An empty result set is not an error.
func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]Result, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = "https://api.duckduckgo.com/"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_redirect", "1")
	q.Set("no_html", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient(d.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, statusError(resp)
	}

	var payload struct {
		Heading       string            `json:"Heading"`
		AbstractText  string            `json:"AbstractText"`
		AbstractURL   string            `json:"AbstractURL"`
		RelatedTopics []json.RawMessage `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("duckduckgo response: %w", err)
	}

	var results []Result
	for _, raw := range payload.RelatedTopics {
		// Grouped topics have no Text/FirstURL at the top level and are skipped.
		var topic struct {
			Text     *string `json:"Text"`
			FirstURL *string `json:"FirstURL"`
		}
		if json.Unmarshal(raw, &topic) != nil || topic.Text == nil || topic.FirstURL == nil {
			continue
		}
		results = append(results, Result{
			Title:   *topic.Text,
			URL:     strings.TrimSpace(*topic.FirstURL),
			Snippet: *topic.Text,
		})
		if len(results) >= max {
			break
		}
	}
	if len(results) == 0 && payload.AbstractText != "" {
		title := payload.Heading
		if title == "" {
			title = payload.AbstractText
		}
		results = append(results, Result{
			Title:   title,
			URL:     strings.TrimSpace(payload.AbstractURL),
			Snippet: payload.AbstractText,
		})
	}
	return results, nil
}
