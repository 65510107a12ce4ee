package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/cxdexx/codex-passport/internal/domain"
	"github.com/cxdexx/codex-passport/internal/ports"
)

// Config points the client at an OpenAI-compatible chat completions endpoint.
type Config struct {
	CompletionURL string
	APIKey        string
	Model         string
}

// Client streams completions from the upstream generation service. The HTTP
// client carries no overall timeout: streams are long-lived and bounded by
// the request context the orchestrator supplies.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

type completionPayload struct {
	Model         string              `json:"model"`
	Messages      []completionMessage `json:"messages"`
	Stream        bool                `json:"stream"`
	StreamOptions streamOptions       `json:"stream_options"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Open starts one streaming completion. A non-200 upstream response is a
// pre-stream failure and surfaces as ErrBackendFailure; the response body is
// never forwarded to the caller.
func (c *Client) Open(ctx context.Context, req ports.GenerationRequest) (ports.CompletionStream, error) {
	payload := completionPayload{
		Model: c.cfg.Model,
		Messages: []completionMessage{
			{Role: "user", Content: req.Snippet},
		},
		Stream:        true,
		StreamOptions: streamOptions{IncludeUsage: true},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal completion payload: %v", domain.ErrBackendFailure, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CompletionURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: build completion request: %v", domain.ErrBackendFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		// Bounded read keeps a misbehaving upstream from buffering megabytes
		// into an error value.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: upstream status %d: %s", domain.ErrBackendFailure, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: resp.Body, scanner: scanner}, nil
}

// sseStream parses server-sent events into completion chunks. Only data
// lines matter in the chat-completions dialect; the final usage payload is
// retained for post-stream accounting.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	closeErr  error

	tokensUsed    int64
	usageReported bool
}

type sseEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (s *sseStream) Recv(ctx context.Context) (ports.Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ports.Chunk{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return ports.Chunk{}, fmt.Errorf("read stream: %w", err)
			}
			// Upstream closed without the terminator; treat as clean end.
			return ports.Chunk{}, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return ports.Chunk{}, io.EOF
		}

		var event sseEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return ports.Chunk{}, fmt.Errorf("decode stream event: %w", err)
		}
		if event.Usage != nil {
			s.tokensUsed = event.Usage.TotalTokens
			s.usageReported = true
		}
		if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
			continue
		}
		return ports.Chunk{Content: event.Choices[0].Delta.Content}, nil
	}
}

func (s *sseStream) TokensUsed() (int64, bool) {
	return s.tokensUsed, s.usageReported
}

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
