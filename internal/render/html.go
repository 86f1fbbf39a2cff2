// Package render turns Markdown documents into self-contained HTML artifacts
// ready for upload.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var page = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 48rem; margin: 2rem auto; line-height: 1.5; color: #1a1a1a; }
h1, h2, h3 { font-family: Helvetica, Arial, sans-serif; }
li { margin: 0.2rem 0; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

type pageData struct {
	Title string
	Body  template.HTML
}

// Document renders a Markdown document as a standalone HTML page. Only the
// subset the drafting adapter emits is handled: headings, paragraphs, and
// bullet lists. Everything else passes through as escaped text.
func Document(title, markdown string) ([]byte, error) {
	body := markdownToHTML(markdown)
	var buf bytes.Buffer
	if err := page.Execute(&buf, pageData{Title: title, Body: template.HTML(body)}); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return buf.Bytes(), nil
}

func markdownToHTML(md string) string {
	var out strings.Builder
	inList := false
	closeList := func() {
		if inList {
			out.WriteString("</ul>\n")
			inList = false
		}
	}

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			closeList()
		case strings.HasPrefix(trimmed, "### "):
			closeList()
			fmt.Fprintf(&out, "<h3>%s</h3>\n", template.HTMLEscapeString(trimmed[4:]))
		case strings.HasPrefix(trimmed, "## "):
			closeList()
			fmt.Fprintf(&out, "<h2>%s</h2>\n", template.HTMLEscapeString(trimmed[3:]))
		case strings.HasPrefix(trimmed, "# "):
			closeList()
			fmt.Fprintf(&out, "<h1>%s</h1>\n", template.HTMLEscapeString(trimmed[2:]))
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			if !inList {
				out.WriteString("<ul>\n")
				inList = true
			}
			fmt.Fprintf(&out, "<li>%s</li>\n", template.HTMLEscapeString(trimmed[2:]))
		default:
			closeList()
			fmt.Fprintf(&out, "<p>%s</p>\n", template.HTMLEscapeString(trimmed))
		}
	}
	closeList()
	return out.String()
}
