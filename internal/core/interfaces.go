package core

import "context"

// Backend identifiers.
const (
	BackendGemini     = "gemini"
	BackendOpenRouter = "openrouter"
	BackendMock       = "mock"
)

// Transport abstracts one generation backend. Implementations classify
// provider-specific failures into ProxyError before returning; the resolution
// engine never sees raw provider error shapes.
type Transport interface {
	// Validate issues a minimal generation call to confirm the
	// credential+model combination is usable. Used by the warm-up pass.
	Validate(ctx context.Context, apiKey, model string) error

	// Generate blocks until the complete generated text is available.
	Generate(ctx context.Context, apiKey, model, prompt string, history []Turn) (string, error)

	// GenerateStream opens an incremental generation. The returned channel
	// is closed by the producer after the final chunk; a chunk with Err set
	// terminates the stream. Cancelling ctx releases the underlying
	// provider connection.
	GenerateStream(ctx context.Context, apiKey, model, prompt string, history []Turn) (<-chan Chunk, error)
}
