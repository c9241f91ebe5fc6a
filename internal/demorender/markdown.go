// Package demorender is the example "render as HTML or JSON depending on
// what the client asked for" backend SPEC_FULL.md describes: a Markdown
// renderer plus a pipeline.Renderer for Fail decisions, grounded on
// internal/web/server.go's renderMarkdown template func and writeError
// helper.
package demorender

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ToHTML converts md to sanitized-by-construction HTML via goldmark's
// GFM extension set (tables, strikethrough, autolinks, task lists), the
// same configuration the teacher's renderMarkdown func uses. On a
// conversion error the source is returned HTML-escaped rather than
// dropped.
func ToHTML(md string) template.HTML {
	gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := gm.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
