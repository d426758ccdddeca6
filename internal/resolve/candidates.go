// Package resolve implements the multi-provider failover engine: given one
// prompt, it walks the credential×model matrix in priority order until a
// generation attempt succeeds or every candidate is exhausted.
package resolve

import (
	"strings"

	"notemind/internal/core"
)

// defaultGeminiModels is the built-in candidate order used when no override
// is configured.
var defaultGeminiModels = []string{
	"gemini-2.0-flash-exp",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
}

// ModelCandidates resolves the ordered model list for a backend. An explicit
// override (single model or comma-delimited list) is used verbatim in the
// given order with no defaults appended, letting an operator pin exactly one
// model to avoid unnecessary trial calls.
func ModelCandidates(backend, override string) []string {
	if override = strings.TrimSpace(override); override != "" {
		parts := strings.Split(override, ",")
		models := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				models = append(models, p)
			}
		}
		if len(models) > 0 {
			return models
		}
	}

	if backend == core.BackendGemini {
		out := make([]string, len(defaultGeminiModels))
		copy(out, defaultGeminiModels)
		return out
	}
	return nil
}
