package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"notemind/internal/core"
)

func successBody(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text)
}

func errorBody(message string) string {
	return fmt.Sprintf(`{"error":{"code":400,"message":%q,"status":"INVALID_ARGUMENT"}}`, message)
}

func TestGenerate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, successBody("Hello!"))
	}))
	defer srv.Close()

	tr := New(srv.URL)
	text, err := tr.Generate(context.Background(), "test-key", "gemini-1.5-flash", "Hi", nil)
	require.NoError(t, err)
	require.Equal(t, "Hello!", text)
	require.Equal(t, "/models/gemini-1.5-flash:generateContent", gotPath)
	require.Equal(t, "test-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	require.Equal(t, "user", gotBody.Contents[0].Role)
	require.Equal(t, "Hi", gotBody.Contents[0].Parts[0].Text)
}

func TestGenerateMapsHistoryRoles(t *testing.T) {
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, successBody("ok"))
	}))
	defer srv.Close()

	history := []core.Turn{
		{Role: core.RoleUser, Content: "first"},
		{Role: core.RoleAssistant, Content: "second"},
		{Role: "system", Content: "odd role"},
	}
	tr := New(srv.URL)
	_, err := tr.Generate(context.Background(), "k", "m", "third", history)
	require.NoError(t, err)

	require.Len(t, gotBody.Contents, 4)
	require.Equal(t, "user", gotBody.Contents[0].Role)
	require.Equal(t, "model", gotBody.Contents[1].Role)
	require.Equal(t, "user", gotBody.Contents[2].Role, "unknown roles collapse to user")
	require.Equal(t, "third", gotBody.Contents[3].Parts[0].Text)
}

func TestGenerateUnexpectedShapeReturnsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"finishReason":"SAFETY"}]}`)
	}))
	defer srv.Close()

	tr := New(srv.URL)
	text, err := tr.Generate(context.Background(), "k", "m", "Hi", nil)
	require.NoError(t, err, "shape drift must not be treated as failure")
	require.Contains(t, text, "SAFETY")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   core.ErrorClass
	}{
		{"invalid key reported as 400", http.StatusBadRequest, errorBody("API key not valid. Please pass a valid API key."), core.ErrorClassUnauthorized},
		{"plain 400", http.StatusBadRequest, errorBody("Invalid JSON payload received."), core.ErrorClassTransient},
		{"403", http.StatusForbidden, errorBody("permission denied"), core.ErrorClassUnauthorized},
		{"unknown model", http.StatusNotFound, errorBody("models/nope is not found"), core.ErrorClassUnsupportedModel},
		{"quota", http.StatusTooManyRequests, errorBody("Resource has been exhausted"), core.ErrorClassRateLimited},
		{"server error", http.StatusInternalServerError, errorBody("internal error"), core.ErrorClassTransient},
		{"non-JSON error body", http.StatusBadGateway, "upstream unavailable", core.ErrorClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			tr := New(srv.URL)
			_, err := tr.Generate(context.Background(), "k", "m", "Hi", nil)
			require.Error(t, err)
			require.Equal(t, tt.want, core.ClassOf(err))
		})
	}
}

func TestValidateSendsMinimalProbe(t *testing.T) {
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, successBody("p"))
	}))
	defer srv.Close()

	tr := New(srv.URL)
	require.NoError(t, tr.Validate(context.Background(), "k", "m"))
	require.NotNil(t, gotBody.GenerationConfig)
	require.Equal(t, 1, gotBody.GenerationConfig.MaxOutputTokens)
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Once ", "upon ", "a time"} {
			fmt.Fprintf(w, "data: %s\n\n", successBody(part))
		}
	}))
	defer srv.Close()

	tr := New(srv.URL)
	stream, err := tr.GenerateStream(context.Background(), "k", "m", "story", nil)
	require.NoError(t, err)

	var b strings.Builder
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		b.WriteString(chunk.Text)
	}
	require.Equal(t, "Once upon a time", b.String())
}

func TestGenerateStreamErrorAtOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, errorBody("API key not valid. Please pass a valid API key."))
	}))
	defer srv.Close()

	tr := New(srv.URL)
	_, err := tr.GenerateStream(context.Background(), "bad", "m", "Hi", nil)
	require.Error(t, err)
	require.Equal(t, core.ErrorClassUnauthorized, core.ClassOf(err))
}
