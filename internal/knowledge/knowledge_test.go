package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)
	require.Greater(t, b.Len(), 0)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
documents:
  - source: only-doc
    content: the quick brown fox
`), 0o644))

	b, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())

	results := b.Search("BROWN")
	require.Len(t, results, 1)
	require.Equal(t, "only-doc", results[0].Source)
	require.Contains(t, results[0].Excerpt, "brown")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/docs.yaml")
	require.Error(t, err)
}

func TestSearchIsCaseInsensitiveSubstring(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	// "minder" appears only inside "reminders" in the search doc.
	results := b.Search("MINDER")
	require.NotEmpty(t, results)
	require.Equal(t, "search", results[0].Source)
}

func TestSearchEmptyQueryMatchesNothing(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)
	require.Empty(t, b.Search(""))
	require.Empty(t, b.Search("   "))
}

func TestSearchNoMatch(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)
	require.Empty(t, b.Search("zzzzzz-not-in-any-doc"))
}

func TestExcerptTruncatesLongDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.yaml")
	long := strings.Repeat("padding ", 50) + "NEEDLE" + strings.Repeat(" padding", 50)
	require.NoError(t, os.WriteFile(path, []byte(
		"documents:\n  - source: long\n    content: "+long+"\n"), 0o644))

	b, err := Load(path)
	require.NoError(t, err)

	results := b.Search("needle")
	require.Len(t, results, 1)
	require.Contains(t, results[0].Excerpt, "NEEDLE")
	require.True(t, strings.HasPrefix(results[0].Excerpt, "..."))
	require.True(t, strings.HasSuffix(results[0].Excerpt, "..."))
	require.Less(t, len(results[0].Excerpt), len(long))
}
