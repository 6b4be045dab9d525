package questions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	text := `# Ground Truth Questions

Q: What does the PR change?
Some notes that are not a question.
**Question:** Which file holds the retry loop?
  Q:   Why was the timeout raised?
Q:
- Q: not at line start after a bullet
`
	got := Parse(text)
	assert.Equal(t, []string{
		"What does the PR change?",
		"Which file holds the retry loop?",
		"Why was the timeout raised?",
	}, got)
}

func TestParseLongLines(t *testing.T) {
	huge := "Context: " + strings.Repeat("x", 2<<20)
	text := "Q: first\n" + huge + "\r\nQ: after the long line\r\nQ: " + strings.Repeat("y", 2<<20)
	got := Parse(text)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0])
	assert.Equal(t, "after the long line", got[1])
	assert.Len(t, got[2], 2<<20)
}

func TestParsePlaceholder(t *testing.T) {
	assert.Empty(t, Parse("# Ground Truth Questions\n\nAdd your ground truth questions here.\n"))
}

func TestLoadSearchOrder(t *testing.T) {
	dir := t.TempDir()
	placeholder := filepath.Join(dir, "ws.md")
	bench := filepath.Join(dir, "bench.md")
	require.NoError(t, os.WriteFile(placeholder, []byte("# nothing yet\n"), 0644))
	require.NoError(t, os.WriteFile(bench, []byte("Q: one\nQ: two\n"), 0644))

	qs, src, err := Load(filepath.Join(dir, "missing.md"), placeholder, bench)
	require.NoError(t, err)
	assert.Equal(t, bench, src)
	assert.Equal(t, []string{"one", "two"}, qs)
}

func TestLoadNone(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.md"))
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestLimit(t *testing.T) {
	qs := []string{"a", "b", "c"}
	assert.Equal(t, qs, Limit(qs, 0))
	assert.Equal(t, qs, Limit(qs, 5))
	assert.Equal(t, []string{"a", "b"}, Limit(qs, 2))
}
