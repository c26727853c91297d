package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"localchat/internal/endpoint"
)

// Generator streams a completion for prompt, sending each non-empty fragment
// to out in the order received. It returns when the backend signals the end,
// on error, or when ctx ends. It never closes out.
type Generator interface {
	Stream(ctx context.Context, prompt string, out chan<- string) error
}

// New returns the generator for an endpoint.
func New(ep endpoint.Endpoint, client *http.Client) (Generator, error) {
	switch ep.Kind {
	case endpoint.KindOllama, "":
		return &OllamaGenerator{URL: ep.URL, Model: ep.Model, Headers: ep.Headers, Client: client}, nil
	case endpoint.KindOpenAI:
		return NewOpenAI(ep, client), nil
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", ep.Kind)
	}
}

// Collect drains a generator into one string.
func Collect(ctx context.Context, g Generator, prompt string) (string, error) {
	out := make(chan string, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- g.Stream(ctx, prompt, out)
		close(out)
	}()
	var sb strings.Builder
	for frag := range out {
		sb.WriteString(frag)
	}
	return sb.String(), <-errc
}

func send(ctx context.Context, out chan<- string, frag string) error {
	select {
	case out <- frag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ==========================================
// Ollama /api/generate (NDJSON)
// ==========================================
type OllamaGenerator struct {
	URL     string
	Model   string
	Headers map[string]string
	Client  *http.Client
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

const maxLineSize = 4 * 1024 * 1024

func (g *OllamaGenerator) Stream(ctx context.Context, prompt string, out chan<- string) error {
	body, err := json.Marshal(generateRequest{Model: g.Model, Prompt: prompt, Stream: true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range g.Headers {
		req.Header.Set(k, v)
	}

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama req error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama api error: %d - %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateLine
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("ollama stream decode: %w", err)
		}
		if chunk.Error != "" {
			return errors.New(chunk.Error)
		}
		if chunk.Response != "" {
			if err := send(ctx, out, chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama stream read: %w", err)
	}
	return nil
}

// ==========================================
// OpenAI-compatible streaming chat completions
// ==========================================
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a streaming client for ep. An empty URL means api.openai.com.
func NewOpenAI(ep endpoint.Endpoint, httpClient *http.Client) *OpenAIGenerator {
	token := strings.TrimPrefix(ep.Headers["Authorization"], "Bearer ")
	cfg := openai.DefaultConfig(token)
	if ep.URL != "" {
		cfg.BaseURL = strings.TrimRight(ep.URL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	model := ep.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGenerator) Stream(ctx context.Context, prompt string, out chan<- string) error {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return fmt.Errorf("openai error: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := send(ctx, out, choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}
