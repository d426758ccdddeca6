package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"notemind/internal/core"
)

func TestModelCandidatesDefaults(t *testing.T) {
	models := ModelCandidates(core.BackendGemini, "")
	require.Equal(t, []string{"gemini-2.0-flash-exp", "gemini-1.5-flash", "gemini-1.5-pro"}, models)
}

func TestModelCandidatesOverrideIsVerbatim(t *testing.T) {
	// An explicit override replaces the defaults entirely; nothing is
	// appended behind the operator's back.
	models := ModelCandidates(core.BackendGemini, "gemini-exp-1206")
	require.Equal(t, []string{"gemini-exp-1206"}, models)

	models = ModelCandidates(core.BackendGemini, "gemini-exp-1206, gemini-1.5-flash")
	require.Equal(t, []string{"gemini-exp-1206", "gemini-1.5-flash"}, models)
}

func TestModelCandidatesOverrideSkipsEmptyEntries(t *testing.T) {
	models := ModelCandidates(core.BackendGemini, "gemini-exp-1206,, ,gemini-1.5-pro")
	require.Equal(t, []string{"gemini-exp-1206", "gemini-1.5-pro"}, models)
}

func TestModelCandidatesReturnsCopy(t *testing.T) {
	a := ModelCandidates(core.BackendGemini, "")
	a[0] = "mutated"
	b := ModelCandidates(core.BackendGemini, "")
	require.Equal(t, "gemini-2.0-flash-exp", b[0])
}
