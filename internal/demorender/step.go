package demorender

import (
	"strings"

	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/zctx"
)

// DeclareMarkdownSlot registers the slot a RenderStep reads its
// Markdown source from. Callers declare it once against their
// server's schema and pass the returned id to RenderStep.
func DeclareMarkdownSlot(schema *slot.Schema) slot.ID {
	return slot.Declare[string](schema, "demorender.markdown")
}

// RenderStep returns a pipeline.Step that reads markdownSlot and
// writes a Done response: HTML via ToHTML when the request's Accept
// header prefers text/html, or a plain JSON {"markdown": "..."} body
// otherwise — the same negotiated-representation idea the teacher's
// dashboard applies to Markdown fields, wired here as an ordinary
// Continue/Done step rather than a template helper since this server
// has no html/template view layer of its own.
func RenderStep(markdownSlot slot.ID) pipeline.Step {
	return pipeline.Step{
		Name:  "demorender.render",
		Reads: slot.Set{markdownSlot},
		Fn: func(v *zctx.View) pipeline.Decision {
			md, err := zctx.Require[string](v, markdownSlot)
			if err != nil {
				return pipeline.Fail(err)
			}

			accept, _ := v.Base().Req.Headers.Get("Accept")
			if strings.Contains(accept, "text/html") {
				return pipeline.Done(pipeline.Response{
					Status: 200,
					Kind:   pipeline.BodyComplete,
					Body:   []byte(ToHTML(md)),
					Headers: []pipeline.Header{
						{Name: "Content-Type", Value: "text/html; charset=utf-8"},
					},
				})
			}

			body := `{"markdown":` + jsonQuote(md) + `}`
			return pipeline.Done(pipeline.Response{
				Status: 200,
				Kind:   pipeline.BodyComplete,
				Body:   []byte(body),
				Headers: []pipeline.Header{
					{Name: "Content-Type", Value: "application/json; charset=utf-8"},
				},
			})
		},
	}
}

// jsonQuote escapes s as a JSON string literal, including delimiting
// quotes.
func jsonQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
