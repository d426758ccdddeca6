// Package gemini implements the Generative Language API transport.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"notemind/internal/core"
	"notemind/internal/httpclient"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// roleModel is Gemini's name for assistant-authored turns.
const roleModel = "model"

// Transport implements core.Transport against the native Generative Language
// REST API. The API key travels per call so one transport instance serves the
// whole credential pool.
type Transport struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a Gemini transport. baseURL overrides the public endpoint when
// non-empty (tests point it at a local server).
func New(baseURL string) *Transport {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Transport{
		// No client-level timeout: one-shot calls are bounded by the
		// per-attempt context, streams live as long as the caller listens.
		httpClient: httpclient.New(0),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// buildContents maps the conversation onto Gemini's contents array. Roles are
// normalized first: Gemini requires the first content to be user-authored and
// uses "model" for assistant turns.
func buildContents(prompt string, history []core.Turn) []content {
	normalized := core.NormalizeHistory(history)
	contents := make([]content, 0, len(normalized)+1)
	for _, t := range normalized {
		role := core.RoleUser
		if t.Role == core.RoleAssistant {
			role = roleModel
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: t.Content}}})
	}
	contents = append(contents, content{Role: core.RoleUser, Parts: []part{{Text: prompt}}})
	return contents
}

// Validate issues a minimal one-token generation call to confirm the
// credential+model combination is usable.
func (t *Transport) Validate(ctx context.Context, apiKey, model string) error {
	req := generateRequest{
		Contents:         []content{{Role: core.RoleUser, Parts: []part{{Text: "ping"}}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: 1},
	}
	_, err := t.call(ctx, apiKey, model, "generateContent", req)
	return err
}

// Generate blocks until the complete generated text is available.
func (t *Transport) Generate(ctx context.Context, apiKey, model, prompt string, history []core.Turn) (string, error) {
	req := generateRequest{Contents: buildContents(prompt, history)}
	body, err := t.call(ctx, apiKey, model, "generateContent", req)
	if err != nil {
		return "", err
	}
	return extractText(body), nil
}

// call posts a generation request and returns the raw success body.
func (t *Transport) call(ctx context.Context, apiKey, model, method string, req generateRequest) ([]byte, error) {
	resp, err := t.post(ctx, apiKey, model, method, "", req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransientError(core.BackendGemini, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (t *Transport) post(ctx context.Context, apiKey, model, method, query string, req generateRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.NewTransientError(core.BackendGemini, fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:%s?key=%s", t.baseURL, url.PathEscape(model), method, url.QueryEscape(apiKey))
	if query != "" {
		endpoint += "&" + query
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewTransientError(core.BackendGemini, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.Classify(core.BackendGemini, err)
	}
	return resp, nil
}

// GenerateStream opens a streaming generation over the SSE variant of the
// endpoint. The returned channel is closed after the final chunk.
func (t *Transport) GenerateStream(ctx context.Context, apiKey, model, prompt string, history []core.Turn) (<-chan core.Chunk, error) {
	req := generateRequest{Contents: buildContents(prompt, history)}
	resp, err := t.post(ctx, apiKey, model, "streamGenerateContent", "alt=sse", req)
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
			text := gjson.Get(payload, "candidates.0.content.parts.0.text").String()
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
			out <- core.Chunk{Err: core.NewTransientError(core.BackendGemini, fmt.Errorf("stream read failed: %w", err))}
		}
	}()
	return out, nil
}

// extractText pulls the generated text out of the documented response shape:
// the first candidate's first content part. If the shape is absent the whole
// payload is returned serialized, so shape drift degrades to ugly output
// instead of a dropped response.
func extractText(body []byte) string {
	if text := gjson.GetBytes(body, "candidates.0.content.parts.0.text"); text.Exists() {
		return text.String()
	}
	return string(body)
}

// classifyError maps a Gemini error response onto the failover taxonomy.
// Gemini reports invalid API keys as 400 INVALID_ARGUMENT rather than 401,
// so the message is inspected before the generic status mapping.
func classifyError(statusCode int, body []byte) *core.ProxyError {
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = string(body)
	}
	if statusCode == http.StatusBadRequest && strings.Contains(message, "API key not valid") {
		return core.NewUnauthorizedError(core.BackendGemini, message)
	}
	return core.ClassifyStatus(core.BackendGemini, statusCode, message)
}
