// Package openrouter implements the OpenRouter chat-completions transport.
//
// OpenRouter is tried as a single fixed attempt against one configured model,
// ahead of the Gemini key×model matrix. There is no per-model retry here:
// OpenRouter does its own routing behind one endpoint.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"notemind/internal/core"
	"notemind/internal/httpclient"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Transport implements core.Transport against OpenRouter's OpenAI-compatible
// chat completions endpoint.
type Transport struct {
	httpClient *http.Client
	baseURL    string
}

// New creates an OpenRouter transport. baseURL overrides the public endpoint
// when non-empty.
func New(baseURL string) *Transport {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Transport{
		httpClient: httpclient.New(0),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// buildMessages maps conversation roles onto the OpenAI vocabulary:
// assistant stays assistant, everything else becomes user.
func buildMessages(prompt string, history []core.Turn) []message {
	msgs := make([]message, 0, len(history)+1)
	for _, t := range core.NormalizeHistory(history) {
		role := core.RoleUser
		if t.Role == core.RoleAssistant {
			role = core.RoleAssistant
		}
		msgs = append(msgs, message{Role: role, Content: t.Content})
	}
	return append(msgs, message{Role: core.RoleUser, Content: prompt})
}

// Validate issues a minimal one-token completion to confirm the key works.
func (t *Transport) Validate(ctx context.Context, apiKey, model string) error {
	req := chatRequest{
		Model:     model,
		Messages:  []message{{Role: core.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := t.complete(ctx, apiKey, req)
	return err
}

// Generate blocks until the complete generated text is available.
func (t *Transport) Generate(ctx context.Context, apiKey, model, prompt string, history []core.Turn) (string, error) {
	req := chatRequest{Model: model, Messages: buildMessages(prompt, history)}
	body, err := t.complete(ctx, apiKey, req)
	if err != nil {
		return "", err
	}
	if text := gjson.GetBytes(body, "choices.0.message.content"); text.Exists() {
		return text.String(), nil
	}
	// Shape drift degrades to the serialized payload rather than an error.
	return string(body), nil
}

func (t *Transport) complete(ctx context.Context, apiKey string, req chatRequest) ([]byte, error) {
	resp, err := t.post(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransientError(core.BackendOpenRouter, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (t *Transport) post(ctx context.Context, apiKey string, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.NewTransientError(core.BackendOpenRouter, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewTransientError(core.BackendOpenRouter, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.Classify(core.BackendOpenRouter, err)
	}
	return resp, nil
}

// GenerateStream opens a streaming completion. OpenRouter emits OpenAI-style
// SSE deltas terminated by a "[DONE]" sentinel.
func (t *Transport) GenerateStream(ctx context.Context, apiKey, model, prompt string, history []core.Turn) (<-chan core.Chunk, error) {
	req := chatRequest{Model: model, Messages: buildMessages(prompt, history), Stream: true}
	resp, err := t.post(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close() //nolint:errcheck
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		return nil, classifyError(resp.StatusCode, respBody)
	}

	out := make(chan core.Chunk)
	go func() {
		defer close(out)
		defer func() {
			_ = resp.Body.Close() //nolint:errcheck
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			text := gjson.Get(payload, "choices.0.delta.content").String()
			if text == "" {
				continue
			}
			select {
			case out <- core.Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- core.Chunk{Err: core.NewTransientError(core.BackendOpenRouter, fmt.Errorf("stream read failed: %w", err))}
		}
	}()
	return out, nil
}

func classifyError(statusCode int, body []byte) *core.ProxyError {
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = string(body)
	}
	return core.ClassifyStatus(core.BackendOpenRouter, statusCode, message)
}
