// Package mockai provides a deterministic in-process transport.
//
// It backs the MOCK_AI configuration flag (integration testing without live
// network access) and is scriptable enough to drive the resolution engine's
// failover tests: callers can fix the outcome per (key, model) pair and
// inspect the exact attempt sequence afterwards.
package mockai

import (
	"context"
	"strings"
	"sync"

	"notemind/internal/core"
)

// Call records one attempted (key, model) trial.
type Call struct {
	Key    string
	Model  string
	Prompt string
}

// Outcome scripts the result for a (key, model) pair.
type Outcome func(key, model string) (string, error)

// StreamOutcome scripts the exact chunk sequence GenerateStream emits for a
// (key, model) pair, including error chunks placed mid-stream. A nil return
// falls back to the text script for that pair.
type StreamOutcome func(key, model string) []core.Chunk

// Transport is a deterministic core.Transport. The zero script echoes the
// prompt back, so identical requests always produce identical output.
type Transport struct {
	mu           sync.Mutex
	calls        []Call
	script       Outcome
	streamScript StreamOutcome
	closed       bool
	opened       int
	chunkSz      int
}

// New creates a mock transport with the default deterministic echo script.
func New() *Transport {
	return &Transport{chunkSz: 8}
}

// NewScripted creates a mock transport whose outcomes are fixed by script.
func NewScripted(script Outcome) *Transport {
	return &Transport{script: script, chunkSz: 8}
}

// ScriptStream fixes the chunk sequences GenerateStream produces. Streams
// still open normally; the scripted chunks decide what happens once the
// consumer starts reading.
func (t *Transport) ScriptStream(script StreamOutcome) {
	t.mu.Lock()
	t.streamScript = script
	t.mu.Unlock()
}

func (t *Transport) respond(key, model, prompt string) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, Call{Key: key, Model: model, Prompt: prompt})
	script := t.script
	t.mu.Unlock()

	if script != nil {
		return script(key, model)
	}
	return "Mock response to: " + prompt, nil
}

// Validate confirms the scripted outcome for the pair without generating text.
func (t *Transport) Validate(ctx context.Context, apiKey, model string) error {
	_, err := t.respond(apiKey, model, "ping")
	return err
}

// Generate returns the scripted (or echoed) text for the pair.
func (t *Transport) Generate(ctx context.Context, apiKey, model, prompt string, history []core.Turn) (string, error) {
	return t.respond(apiKey, model, prompt)
}

// GenerateStream emits the scripted chunk sequence for the pair, or the text
// outcome split into fixed-size chunks. The stream sets the closed flag when
// the producer releases it, whether it ran to completion or was cancelled.
func (t *Transport) GenerateStream(ctx context.Context, apiKey, model, prompt string, history []core.Turn) (<-chan core.Chunk, error) {
	t.mu.Lock()
	streamScript := t.streamScript
	t.mu.Unlock()

	if streamScript != nil {
		if chunks := streamScript(apiKey, model); chunks != nil {
			t.mu.Lock()
			t.calls = append(t.calls, Call{Key: apiKey, Model: model, Prompt: prompt})
			t.mu.Unlock()
			return t.stream(ctx, chunks), nil
		}
	}

	text, err := t.respond(apiKey, model, prompt)
	if err != nil {
		return nil, err
	}
	var chunks []core.Chunk
	for _, c := range splitChunks(text, t.chunkSz) {
		chunks = append(chunks, core.Chunk{Text: c})
	}
	return t.stream(ctx, chunks), nil
}

func (t *Transport) stream(ctx context.Context, chunks []core.Chunk) <-chan core.Chunk {
	t.mu.Lock()
	t.opened++
	t.closed = false
	t.mu.Unlock()

	out := make(chan core.Chunk)
	go func() {
		defer close(out)
		defer func() {
			t.mu.Lock()
			t.closed = true
			t.mu.Unlock()
		}()

		for _, chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Calls returns a copy of the recorded attempt sequence.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// CallCount returns the number of recorded attempts.
func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// StreamClosed reports whether the most recently opened stream has been
// released by its producer.
func (t *Transport) StreamClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// StreamsOpened returns how many streams were opened in total.
func (t *Transport) StreamsOpened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened
}

func splitChunks(s string, size int) []string {
	if size <= 0 {
		size = 8
	}
	var chunks []string
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if b.Len() >= size {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
