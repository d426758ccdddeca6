package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"notemind/internal/core"
	"notemind/internal/credential"
	"notemind/internal/jobsearch"
	"notemind/internal/knowledge"
	"notemind/internal/resolve"
	"notemind/internal/transport/mockai"
)

func postJSON(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestChat(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/chat", `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Mock response to: Hello", resp["response"])
	require.Equal(t, resp["response"], resp["text"], "both field names carry the same text")
}

func TestChatAcceptsPromptAlias(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/chat", `{"prompt":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Mock response to: Hello")
}

func TestChatEmptyMessage(t *testing.T) {
	srv, mock := newTestServer(t, nil)

	rec := postJSON(srv, "/chat", `{"message":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp["error"], "prompt")
	require.Equal(t, 0, mock.CallCount(), "no provider call for invalid input")
}

func TestChatForwardsHistory(t *testing.T) {
	srv, mock := newTestServer(t, nil)

	rec := postJSON(srv, "/chat", `{
		"message": "and then?",
		"history": [
			{"role": "user", "content": "tell me a story"},
			{"role": "model", "parts": [{"text": "Once upon a time."}]}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, mock.CallCount())
}

func TestChatAdvisoryOnAllKeysUnauthorized(t *testing.T) {
	mock := mockai.NewScripted(func(key, model string) (string, error) {
		return "", core.NewUnauthorizedError(core.BackendGemini, "API key not valid")
	})
	pool := credential.NewPool()
	pool.Add(core.BackendGemini, "revoked-key-000000")
	engine := resolve.New(resolve.Options{Pool: pool, Gemini: mock, GeminiModels: []string{"m1"}})
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	srv := New(Deps{Engine: engine, Knowledge: kb}, nil)

	rec := postJSON(srv, "/chat", `{"message":"Hello"}`)

	// Authorization-class exhaustion is presented as friendly text, not a
	// failure status.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp["text"], "API key")
}

func TestChatMixedFailureExhaustionIsNotAdvisory(t *testing.T) {
	// The first key fails transiently, the second is rejected. Even though
	// the last failure is a rejection, not every key was, so the friendly
	// "keys rejected" text would misstate what happened.
	mock := mockai.NewScripted(func(key, model string) (string, error) {
		if key == "flaky-key-00000000" {
			return "", fmt.Errorf("connection refused")
		}
		return "", core.NewUnauthorizedError(core.BackendGemini, "API key not valid")
	})
	pool := credential.NewPool()
	pool.Add(core.BackendGemini, "flaky-key-00000000", "revoked-key-000000")
	engine := resolve.New(resolve.Options{Pool: pool, Gemini: mock, GeminiModels: []string{"m1"}})
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	srv := New(Deps{Engine: engine, Knowledge: kb}, nil)

	rec := postJSON(srv, "/chat", `{"message":"Hello"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "failed to generate response", resp["error"])
}

func TestChatExhaustionIsBadGateway(t *testing.T) {
	mock := mockai.NewScripted(func(key, model string) (string, error) {
		return "", fmt.Errorf("connection refused")
	})
	pool := credential.NewPool()
	pool.Add(core.BackendGemini, "some-key-000000000")
	engine := resolve.New(resolve.Options{Pool: pool, Gemini: mock, GeminiModels: []string{"m1"}})
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	srv := New(Deps{Engine: engine, Knowledge: kb}, nil)

	rec := postJSON(srv, "/chat", `{"message":"Hello"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "failed to generate response", resp["error"])
	require.NotEmpty(t, resp["details"])
}

func TestChatNoProviderConfigured(t *testing.T) {
	engine := resolve.New(resolve.Options{Pool: credential.NewPool(), Gemini: mockai.New(), GeminiModels: []string{"m1"}})
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	srv := New(Deps{Engine: engine, Knowledge: kb}, nil)

	rec := postJSON(srv, "/chat", `{"message":"Hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// parseSSE splits an event-stream body into its data payloads.
func parseSSE(t *testing.T, body string) []string {
	t.Helper()
	var payloads []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}
	return payloads
}

func TestChatStream(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat-stream?prompt=Hello", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)

	var text strings.Builder
	for _, payload := range events[:len(events)-1] {
		var chunk map[string]string
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		text.WriteString(chunk["response"])
	}
	require.Equal(t, "Mock response to: Hello", text.String())
	require.JSONEq(t, `{"done":true}`, events[len(events)-1])
}

func TestChatStreamWithSerializedHistory(t *testing.T) {
	srv, mock := newTestServer(t, nil)

	history := `[{"role":"user","content":"earlier question"}]`
	req := httptest.NewRequest(http.MethodGet, "/chat-stream?prompt=next&history="+
		strings.ReplaceAll(history, " ", "%20"), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, mock.CallCount())
}

func TestChatStreamMissingPrompt(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat-stream", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "prompt")
}

func TestChatStreamErrorEvent(t *testing.T) {
	mock := mockai.NewScripted(func(key, model string) (string, error) {
		return "", fmt.Errorf("connection refused")
	})
	pool := credential.NewPool()
	pool.Add(core.BackendGemini, "some-key-000000000")
	engine := resolve.New(resolve.Options{Pool: pool, Gemini: mock, GeminiModels: []string{"m1"}})
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	srv := New(Deps{Engine: engine, Knowledge: kb}, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat-stream?prompt=Hello", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	// Stream opens with 200; the failure arrives as an error event.
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)

	var last map[string]string
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1]), &last))
	require.NotEmpty(t, last["error"])
}

func TestSearchKnowledge(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/search", `{"query":"canvas"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []knowledge.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	require.NotEmpty(t, resp.Results[0].Source)
	require.Contains(t, strings.ToLower(resp.Results[0].Excerpt), "canvas")
}

func TestSearchKnowledgeNoMatchesIsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/search", `{"query":"zzzz-no-such-term"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestSearchKnowledgeEmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/search", `{"query":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalculate(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantResult float64
	}{
		{"addition", `{"expression":"2 + 3"}`, http.StatusOK, 5},
		{"precedence", `{"expression":"(2 + 3) * 4"}`, http.StatusOK, 20},
		{"division", `{"expression":"10 / 2.5"}`, http.StatusOK, 4},
		{"empty", `{"expression":""}`, http.StatusBadRequest, 0},
		{"unparseable", `{"expression":"2 +* 3"}`, http.StatusBadRequest, 0},
		{"non-numeric result", `{"expression":"\"a\" + \"b\""}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(srv, "/calculate", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				var resp map[string]float64
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				require.Equal(t, tt.wantResult, resp["result"])
			}
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "file")
}

func TestUploadRejectsNonPDF(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("plain text, not a pdf"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs?query=golang", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobsPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"OK","data":[]}`)
	}))
	defer upstream.Close()

	mock := mockai.New()
	pool := credential.NewPool()
	pool.Add(core.BackendGemini, "test-key-0000000000")
	engine := resolve.New(resolve.Options{Pool: pool, Gemini: mock, GeminiModels: []string{"m1"}})
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	srv := New(Deps{
		Engine:    engine,
		Knowledge: kb,
		Jobs:      jobsearch.New("rapid-key", upstream.URL),
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs?query=golang", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"OK","data":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoot(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "NoteMind")
}
