// Package llm talks to an OpenAI-compatible chat-completions gateway that
// fronts every provider the service offers.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

const (
	defaultTimeout     = 10 * time.Minute
	defaultTemperature = 0.1
	maxTokens          = 4096
)

type Gateway struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ domain.ModelGateway = (*Gateway)(nil)

// NewGateway builds a client for an OpenAI-compatible endpoint such as
// https://yunwu.ai/v1.
func NewGateway(baseURL, apiKey string) *Gateway {
	return &Gateway{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

func (g *Gateway) ResolveModel(id domain.ModelID) (string, error) {
	return resolve(id)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message *wireMessage `json:"message"`
		Delta   *wireMessage `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func buildMessages(req domain.ChatRequest) []wireMessage {
	msgs := make([]wireMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.User != "" {
		msgs = append(msgs, wireMessage{Role: "user", Content: req.User})
	}
	return msgs
}

// Complete runs one non-streamed completion.
func (g *Gateway) Complete(ctx context.Context, id domain.ModelID, req domain.ChatRequest) (string, error) {
	model, err := resolve(id)
	if err != nil {
		return "", err
	}

	body := completionRequest{
		Model:       model,
		Messages:    buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
	}

	resp, err := g.post(ctx, body)
	if err != nil {
		return "", &domain.ProviderError{Model: model, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.ProviderError{Model: model, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &domain.ProviderError{Model: model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var decoded completionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &domain.ProviderError{Model: model, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if decoded.Error != nil {
		return "", &domain.ProviderError{Model: model, Err: fmt.Errorf("gateway error: %s", decoded.Error.Message)}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message == nil {
		return "", &domain.ProviderError{Model: model, Err: fmt.Errorf("empty choices in response")}
	}
	return decoded.Choices[0].Message.Content, nil
}

// CompleteStream opens a streamed completion. The HTTP exchange starts in a
// goroutine; transport failures surface on the stream's Err channel.
func (g *Gateway) CompleteStream(ctx context.Context, id domain.ModelID, req domain.ChatRequest) (*domain.ChatStream, error) {
	model, err := resolve(id)
	if err != nil {
		return nil, err
	}

	body := completionRequest{
		Model:       model,
		Messages:    buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
		Stream:      true,
	}

	tokens := make(chan string, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		log := observability.LoggerFromContext(ctx).With("model", model)
		start := time.Now()

		resp, err := g.post(ctx, body)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
			return
		}

		if err := pumpSSE(ctx, resp.Body, tokens); err != nil {
			log.Error("token stream failed", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
			errs <- err
			return
		}
		log.Debug("token stream done", "elapsed_ms", time.Since(start).Milliseconds())
	}()

	return &domain.ChatStream{Model: model, Tokens: tokens, Err: errs}, nil
}

// pumpSSE decodes "data:" lines until [DONE] or EOF, forwarding content
// deltas. Malformed events are skipped; embedded gateway errors abort.
func pumpSSE(ctx context.Context, body io.Reader, tokens chan<- string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("gateway error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			select {
			case tokens <- delta:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, body completionRequest) (*http.Response, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("gateway API key not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
