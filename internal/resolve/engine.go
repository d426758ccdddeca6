package resolve

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"notemind/internal/cache"
	"notemind/internal/core"
	"notemind/internal/credential"
	"notemind/internal/usage"
)

// Resolution modes, recorded per attempt.
const (
	ModeOneShot = "oneshot"
	ModeStream  = "stream"
	ModeWarmup  = "warmup"
)

const defaultAttemptTimeout = 60 * time.Second

// Options configures an Engine. Pool and Gemini are required; OpenRouter is
// optional and, when present, is tried once ahead of the Gemini matrix.
type Options struct {
	Pool         *credential.Pool
	Gemini       core.Transport
	GeminiModels []string

	OpenRouter      core.Transport
	OpenRouterKey   string
	OpenRouterModel string

	// AttemptTimeout bounds each one-shot/validate provider call so a single
	// unresponsive provider cannot stall the whole matrix.
	AttemptTimeout time.Duration

	// WarmupCache persists the known-good pair across restarts. Optional.
	WarmupCache cache.Cache

	// Attempts receives one record per trial. Optional.
	Attempts usage.Sink
}

// Engine is the failover core. It is immutable after construction except for
// the warm-up result, which is written once before serving begins and only
// read afterwards.
type Engine struct {
	pool    *credential.Pool
	gemini  core.Transport
	models  []string
	timeout time.Duration

	openRouter      core.Transport
	openRouterCred  credential.Credential
	openRouterModel string

	warmCache cache.Cache
	warm      *cache.WarmupEntry
	attempts  usage.Sink
}

// New creates a resolution engine.
func New(opts Options) *Engine {
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	models := opts.GeminiModels
	if len(models) == 0 {
		models = ModelCandidates(core.BackendGemini, "")
	}
	e := &Engine{
		pool:            opts.Pool,
		gemini:          opts.Gemini,
		models:          models,
		timeout:         timeout,
		openRouterModel: opts.OpenRouterModel,
		warmCache:       opts.WarmupCache,
		attempts:        opts.Attempts,
	}
	if opts.OpenRouter != nil && opts.OpenRouterKey != "" {
		e.openRouter = opts.OpenRouter
		e.openRouterCred = credential.Credential{Backend: core.BackendOpenRouter, Key: opts.OpenRouterKey}
	}
	return e
}

// candidate is one (credential, model) pair eligible for a generation attempt.
type candidate struct {
	cred  credential.Credential
	model string
}

// geminiCandidates returns the matrix in priority order: credential-major,
// model-minor, with the cached known-good pair (if any) moved to the front.
func (e *Engine) geminiCandidates() []candidate {
	creds := e.pool.Credentials(core.BackendGemini)
	cands := make([]candidate, 0, len(creds)*len(e.models))
	for _, c := range creds {
		for _, m := range e.models {
			cands = append(cands, candidate{cred: c, model: m})
		}
	}

	if e.warm == nil {
		return cands
	}
	for i, c := range cands {
		if c.model == e.warm.Model && c.cred.Digest() == e.warm.KeyDigest {
			if i > 0 {
				reordered := make([]candidate, 0, len(cands))
				reordered = append(reordered, cands[i])
				reordered = append(reordered, cands[:i]...)
				reordered = append(reordered, cands[i+1:]...)
				return reordered
			}
			break
		}
	}
	return cands
}

// record emits the attempt to metrics, the structured log and the attempt sink.
func (e *Engine) record(ctx context.Context, mode string, cred credential.Credential, model string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(core.ClassOf(err))
	}
	attemptsTotal.WithLabelValues(cred.Backend, outcome).Inc()

	elapsed := time.Since(start)
	if err != nil {
		slog.Warn("generation attempt failed",
			"backend", cred.Backend,
			"key", cred.Mask(),
			"model", model,
			"outcome", outcome,
			"elapsed", elapsed,
		)
	} else {
		slog.Debug("generation attempt succeeded",
			"backend", cred.Backend,
			"key", cred.Mask(),
			"model", model,
			"elapsed", elapsed,
		)
	}

	if e.attempts != nil {
		e.attempts.Record(&usage.Attempt{
			RequestID: core.RequestIDFrom(ctx),
			Backend:   cred.Backend,
			KeyMask:   cred.Mask(),
			Model:     model,
			Mode:      mode,
			Outcome:   outcome,
			LatencyMS: elapsed.Milliseconds(),
		})
	}
}

// Generate resolves a prompt to complete generated text, failing over through
// the candidate matrix. First success wins; candidates are tried strictly
// sequentially because provider calls consume quota.
func (e *Engine) Generate(ctx context.Context, prompt string, history []core.Turn) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", core.NewInvalidInputError("prompt is required")
	}

	geminiCreds := e.pool.Len(core.BackendGemini)
	if e.openRouter == nil && geminiCreds == 0 {
		resolutionsTotal.WithLabelValues(ModeOneShot, "no_provider").Inc()
		return "", core.NewNoProviderError()
	}

	var lastErr error
	allUnauthorized := true

	// Preferred fast path: one fixed OpenRouter attempt, independent of the
	// Gemini matrix.
	if e.openRouter != nil {
		text, err := e.oneAttempt(ctx, ModeOneShot, e.openRouter, e.openRouterCred, e.openRouterModel, prompt, history)
		if err == nil {
			resolutionsTotal.WithLabelValues(ModeOneShot, "success").Inc()
			return text, nil
		}
		pe := core.Classify(core.BackendOpenRouter, err)
		if pe.Terminal() {
			resolutionsTotal.WithLabelValues(ModeOneShot, string(pe.Class)).Inc()
			return "", pe
		}
		if pe.Class != core.ErrorClassUnauthorized {
			allUnauthorized = false
		}
		lastErr = pe
	}

	skipCred := make(map[string]struct{})
	for _, cand := range e.geminiCandidates() {
		if _, skip := skipCred[cand.cred.Key]; skip {
			continue
		}

		text, err := e.oneAttempt(ctx, ModeOneShot, e.gemini, cand.cred, cand.model, prompt, history)
		if err == nil {
			resolutionsTotal.WithLabelValues(ModeOneShot, "success").Inc()
			return text, nil
		}

		pe := core.Classify(core.BackendGemini, err)
		if pe.Terminal() {
			resolutionsTotal.WithLabelValues(ModeOneShot, string(pe.Class)).Inc()
			return "", pe
		}
		if pe.Class == core.ErrorClassUnauthorized {
			// A rejected key will not start working for a different model.
			skipCred[cand.cred.Key] = struct{}{}
		} else {
			allUnauthorized = false
		}
		lastErr = pe
	}

	resolutionsTotal.WithLabelValues(ModeOneShot, "exhausted").Inc()
	exh := core.NewExhaustedError(lastErr)
	exh.AllUnauthorized = allUnauthorized
	return "", exh
}

// oneAttempt runs a single bounded generation call and records its outcome.
func (e *Engine) oneAttempt(ctx context.Context, mode string, transport core.Transport, cred credential.Credential, model, prompt string, history []core.Turn) (string, error) {
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	text, err := transport.Generate(actx, cred.Key, model, prompt, history)
	e.record(ctx, mode, cred, model, start, err)
	return text, err
}

// GenerateStream resolves a prompt to an incremental stream. One candidate is
// selected up front (the warm pair when cached, otherwise priority order);
// failover happens only while nothing has been emitted yet. Once the first
// chunk has reached the caller a provider error terminates the stream with an
// error chunk instead of switching providers, which would splice two
// unrelated partial responses together.
func (e *Engine) GenerateStream(ctx context.Context, prompt string, history []core.Turn) (<-chan core.Chunk, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, core.NewInvalidInputError("prompt is required")
	}
	if e.openRouter == nil && e.pool.Len(core.BackendGemini) == 0 {
		resolutionsTotal.WithLabelValues(ModeStream, "no_provider").Inc()
		return nil, core.NewNoProviderError()
	}

	type streamCandidate struct {
		transport core.Transport
		cred      credential.Credential
		model     string
	}
	var cands []streamCandidate
	if e.openRouter != nil {
		cands = append(cands, streamCandidate{e.openRouter, e.openRouterCred, e.openRouterModel})
	}
	for _, c := range e.geminiCandidates() {
		cands = append(cands, streamCandidate{e.gemini, c.cred, c.model})
	}

	out := make(chan core.Chunk)
	go func() {
		defer close(out)

		var lastErr error
		allUnauthorized := true
		skipCred := make(map[string]struct{})

		for _, cand := range cands {
			if _, skip := skipCred[cand.cred.Key]; skip {
				continue
			}
			if ctx.Err() != nil {
				return
			}

			start := time.Now()
			stream, err := cand.transport.GenerateStream(ctx, cand.cred.Key, cand.model, prompt, history)
			if err != nil {
				e.record(ctx, ModeStream, cand.cred, cand.model, start, err)
				pe := core.Classify(cand.cred.Backend, err)
				if pe.Terminal() {
					resolutionsTotal.WithLabelValues(ModeStream, string(pe.Class)).Inc()
					emit(ctx, out, core.Chunk{Err: pe})
					return
				}
				if pe.Class == core.ErrorClassUnauthorized {
					skipCred[cand.cred.Key] = struct{}{}
				} else {
					allUnauthorized = false
				}
				lastErr = pe
				continue
			}

			emitted := false
			failed := false
			for chunk := range stream {
				if chunk.Err != nil {
					if !emitted {
						// Nothing reached the caller yet, safe to fail over.
						e.record(ctx, ModeStream, cand.cred, cand.model, start, chunk.Err)
						pe := core.Classify(cand.cred.Backend, chunk.Err)
						if pe.Class == core.ErrorClassUnauthorized {
							skipCred[cand.cred.Key] = struct{}{}
						} else {
							allUnauthorized = false
						}
						lastErr = pe
						failed = true
						break
					}
					e.record(ctx, ModeStream, cand.cred, cand.model, start, chunk.Err)
					resolutionsTotal.WithLabelValues(ModeStream, "stream_error").Inc()
					emit(ctx, out, chunk)
					return
				}

				emitted = true
				select {
				case out <- chunk:
				case <-ctx.Done():
					// Caller went away: stop consuming so the transport
					// releases the provider connection.
					return
				}
			}
			if failed {
				continue
			}

			// Stream completed.
			e.record(ctx, ModeStream, cand.cred, cand.model, start, nil)
			resolutionsTotal.WithLabelValues(ModeStream, "success").Inc()
			return
		}

		resolutionsTotal.WithLabelValues(ModeStream, "exhausted").Inc()
		exh := core.NewExhaustedError(lastErr)
		exh.AllUnauthorized = allUnauthorized
		emit(ctx, out, core.Chunk{Err: exh})
	}()
	return out, nil
}

// emit sends a chunk unless the caller has gone away.
func emit(ctx context.Context, out chan<- core.Chunk, c core.Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}

// Warmup walks the candidate matrix once with Validate and caches the first
// usable pair, seeding streaming mode and the first one-shot trial. The
// result is advisory: one-shot mode still falls back through the full matrix
// if the cached pair degrades later. Must be called before serving begins;
// the warm field is read-only afterwards.
func (e *Engine) Warmup(ctx context.Context) {
	creds := e.pool.Credentials(core.BackendGemini)
	if len(creds) == 0 {
		return
	}

	// A persisted entry that still matches the configured pool skips the
	// validation pass entirely.
	if e.warmCache != nil {
		if entry, err := e.warmCache.Get(ctx); err != nil {
			slog.Warn("failed to load warmup cache", "error", err)
		} else if entry != nil && e.adoptCached(entry) {
			slog.Info("adopted cached warmup pair", "model", entry.Model, "cached_at", entry.UpdatedAt)
			return
		}
	}

	skipCred := make(map[string]struct{})
	for _, cand := range e.geminiCandidates() {
		if _, skip := skipCred[cand.cred.Key]; skip {
			continue
		}

		actx, cancel := context.WithTimeout(ctx, e.timeout)
		start := time.Now()
		err := e.gemini.Validate(actx, cand.cred.Key, cand.model)
		cancel()
		e.record(ctx, ModeWarmup, cand.cred, cand.model, start, err)

		if err == nil {
			e.warm = &cache.WarmupEntry{
				Backend:   core.BackendGemini,
				KeyDigest: cand.cred.Digest(),
				Model:     cand.model,
				UpdatedAt: time.Now().UTC(),
			}
			slog.Info("warmup validated pair", "key", cand.cred.Mask(), "model", cand.model)
			if e.warmCache != nil {
				if err := e.warmCache.Set(ctx, e.warm); err != nil {
					slog.Warn("failed to persist warmup cache", "error", err)
				}
			}
			return
		}
		if core.ClassOf(err) == core.ErrorClassUnauthorized {
			skipCred[cand.cred.Key] = struct{}{}
		}
	}
	slog.Warn("warmup found no usable credential+model pair")
}

// adoptCached validates a persisted entry against the current configuration:
// the credential must still be in the pool and the model still a candidate.
func (e *Engine) adoptCached(entry *cache.WarmupEntry) bool {
	if entry.Backend != core.BackendGemini {
		return false
	}
	modelOK := false
	for _, m := range e.models {
		if m == entry.Model {
			modelOK = true
			break
		}
	}
	if !modelOK {
		return false
	}
	for _, c := range e.pool.Credentials(core.BackendGemini) {
		if c.Digest() == entry.KeyDigest {
			e.warm = entry
			return true
		}
	}
	return false
}

// KnownGood returns the cached warm-up pair, or nil if none was established.
func (e *Engine) KnownGood() *cache.WarmupEntry {
	return e.warm
}
