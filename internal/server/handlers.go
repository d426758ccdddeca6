// Package server provides HTTP handlers and server setup for the NoteMind
// backend.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/labstack/echo/v4"

	"notemind/internal/core"
	"notemind/internal/jobsearch"
	"notemind/internal/knowledge"
	"notemind/internal/pdftext"
	"notemind/internal/ratelimit"
	"notemind/internal/resolve"
)

// advisoryText is the end-user explanation returned when every configured
// key was rejected by the provider. Surfaced with HTTP 200 on the chat
// endpoints only: the chat UI renders it like any assistant reply instead of
// showing a raw failure.
const advisoryText = "I couldn't reach the AI service: every configured API key was rejected. " +
	"The keys may be restricted or over quota. Please check the key configuration and try again."

// Deps holds the collaborators the handlers dispatch to.
type Deps struct {
	Engine    *resolve.Engine
	Knowledge *knowledge.Base
	Jobs      *jobsearch.Client
	Limiter   ratelimit.Limiter
}

// Handler holds the HTTP handlers
type Handler struct {
	engine    *resolve.Engine
	knowledge *knowledge.Base
	jobs      *jobsearch.Client
}

// NewHandler creates a new handler with the given collaborators
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:    deps.Engine,
		knowledge: deps.Knowledge,
		jobs:      deps.Jobs,
	}
}

// historyTurn accepts both history shapes the frontends send: flat
// {role, content} and the Gemini SDK form {role, parts: [{text}]}.
type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Parts   []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func (t historyTurn) toTurn() core.Turn {
	content := t.Content
	if content == "" {
		for _, p := range t.Parts {
			content += p.Text
		}
	}
	role := t.Role
	if role == "model" {
		// Gemini SDK vocabulary for assistant turns.
		role = core.RoleAssistant
	}
	return core.Turn{Role: role, Content: content}
}

func toHistory(turns []historyTurn) []core.Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]core.Turn, len(turns))
	for i, t := range turns {
		out[i] = t.toTurn()
	}
	return out
}

type chatRequest struct {
	// Message is the original field name; Prompt is accepted as an alias.
	Message string        `json:"message"`
	Prompt  string        `json:"prompt"`
	History []historyTurn `json:"history"`
}

func (r chatRequest) prompt() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Prompt
}

// Chat handles POST /chat
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidInputError("invalid request body: "+err.Error()))
	}

	text, err := h.engine.Generate(c.Request().Context(), req.prompt(), toHistory(req.History))
	if err != nil {
		if msg, ok := advisory(err); ok {
			return c.JSON(http.StatusOK, map[string]string{"response": msg, "text": msg})
		}
		return handleError(c, err)
	}

	// Both field names are live: the chat UI reads "response", the notes
	// canvas reads "text".
	return c.JSON(http.StatusOK, map[string]string{"response": text, "text": text})
}

// ChatStream handles GET /chat-stream as a server-sent event stream.
func (h *Handler) ChatStream(c echo.Context) error {
	prompt := c.QueryParam("prompt")

	var history []core.Turn
	if raw := c.QueryParam("history"); raw != "" {
		var turns []historyTurn
		if err := json.Unmarshal([]byte(raw), &turns); err != nil {
			return handleError(c, core.NewInvalidInputError("invalid history: "+err.Error()))
		}
		history = toHistory(turns)
	}

	stream, err := h.engine.GenerateStream(c.Request().Context(), prompt, history)
	if err != nil {
		return handleError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for chunk := range stream {
		if chunk.Err != nil {
			msg := chunk.Err.Error()
			if adv, ok := advisory(chunk.Err); ok {
				msg = adv
			}
			writeEvent(res, map[string]string{"error": msg})
			return nil
		}
		writeEvent(res, map[string]string{"response": chunk.Text})
	}

	writeEvent(res, map[string]bool{"done": true})
	return nil
}

func writeEvent(res *echo.Response, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(res, "data: %s\n\n", data)
	res.Flush()
}

// advisory reports whether err is an exhaustion in which every attempted key
// was rejected, the one failure the chat surface translates into friendly
// text instead of an error status. A mixed exhaustion (some keys failed
// transiently) stays an error: the advisory would claim more than happened.
// The internal classification is untouched; only the presentation changes.
func advisory(err error) (string, bool) {
	var pe *core.ProxyError
	if !errors.As(err, &pe) {
		return "", false
	}
	if pe.Class == core.ErrorClassExhausted && pe.AllUnauthorized {
		return advisoryText, true
	}
	return "", false
}

// Upload handles POST /upload: multipart PDF in, extracted text out.
func (h *Handler) Upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return handleError(c, core.NewInvalidInputError("no file uploaded"))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return handleError(c, fmt.Errorf("failed to open upload: %w", err))
	}
	defer func() {
		_ = file.Close() //nolint:errcheck
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return handleError(c, fmt.Errorf("failed to read upload: %w", err))
	}

	doc, err := pdftext.Extract(data)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"text":     doc.Text,
		"info":     doc.Info,
		"metadata": map[string]any{"pages": doc.Pages},
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

// SearchKnowledge handles POST /search over the fixed document set.
func (h *Handler) SearchKnowledge(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidInputError("invalid request body: "+err.Error()))
	}
	if strings.TrimSpace(req.Query) == "" {
		return handleError(c, core.NewInvalidInputError("query is required"))
	}

	results := h.knowledge.Search(req.Query)
	if results == nil {
		results = []knowledge.Result{}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

type calculateRequest struct {
	Expression string `json:"expression"`
}

// Calculate handles POST /calculate: arithmetic expression in, number out.
func (h *Handler) Calculate(c echo.Context) error {
	var req calculateRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidInputError("invalid request body: "+err.Error()))
	}
	if strings.TrimSpace(req.Expression) == "" {
		return handleError(c, core.NewInvalidInputError("expression is required"))
	}

	program, err := expr.Compile(req.Expression)
	if err != nil {
		return handleError(c, core.NewInvalidInputError("invalid expression: "+err.Error()))
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return handleError(c, core.NewInvalidInputError("failed to evaluate expression: "+err.Error()))
	}

	result, ok := asNumber(out)
	if !ok {
		return handleError(c, core.NewInvalidInputError("expression did not evaluate to a number"))
	}
	return c.JSON(http.StatusOK, map[string]float64{"result": result})
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Jobs handles GET /jobs: a passthrough to the JSearch API.
func (h *Handler) Jobs(c echo.Context) error {
	if h.jobs == nil || !h.jobs.Enabled() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "job search is not configured",
		})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	body, err := h.jobs.Search(c.Request().Context(), c.QueryParam("query"), page)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// Root handles GET /
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "NoteMind backend is running",
		"status":  "OK",
	})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts classified errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var pe *core.ProxyError
	if errors.As(err, &pe) {
		body := map[string]string{"error": pe.Message}
		if pe.Class == core.ErrorClassExhausted && pe.Err != nil {
			body["error"] = "failed to generate response"
			body["details"] = pe.Message
		}
		return c.JSON(pe.HTTPStatusCode(), body)
	}

	// Fallback for unexpected errors; detail stays in the server log.
	slog.Error("unhandled error", "error", err, "path", c.Path())
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "an unexpected error occurred",
	})
}
