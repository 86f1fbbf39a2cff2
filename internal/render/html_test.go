package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRendersMarkdownSubset(t *testing.T) {
	out, err := Document("Resume", "# Jane Doe\n\nBackend engineer.\n\n- Go\n- Postgres\n")
	require.NoError(t, err)
	html := string(out)
	assert.Contains(t, html, "<title>Resume</title>")
	assert.Contains(t, html, "<h1>Jane Doe</h1>")
	assert.Contains(t, html, "<p>Backend engineer.</p>")
	assert.Contains(t, html, "<li>Go</li>")
	assert.Contains(t, html, "</ul>")
}

func TestDocumentEscapesMarkup(t *testing.T) {
	out, err := Document("Resume", "<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script>")
}
