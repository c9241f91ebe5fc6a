package demorender

import (
	"fmt"
	"html"
	"strings"

	"github.com/monstercameron/zerver/internal/errpipe"
	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/zctx"
	"github.com/monstercameron/zerver/internal/zerr"
)

// errorPage is the minimal HTML shell the teacher's templates/*.html
// error views would wrap; kept inline here since this package has no
// template directory of its own.
const errorPage = `<!doctype html><html><body><h1>%d</h1><p>%s</p></body></html>`

// Renderer is a pipeline.Renderer that renders a Fail decision as an
// HTML error page when the request's Accept header prefers text/html,
// and falls back to errpipe.DefaultRenderer's JSON body otherwise — the
// same "render what the client asked for" idea as the teacher's
// renderMarkdown helper, applied to error output instead of Markdown
// content.
func Renderer(base *zctx.CtxBase) pipeline.Decision {
	accept, _ := base.Req.Headers.Get("Accept")
	if !strings.Contains(accept, "text/html") {
		return errpipe.DefaultRenderer(base)
	}

	err := base.LastError
	if err == nil {
		err = zerr.New(zerr.Internal, "demorender", "fail decision carried no error")
	}
	status := zerr.Status(err.Kind)
	msg := err.Reason
	if msg == "" {
		msg = string(err.Kind)
	}

	return pipeline.Done(pipeline.Response{
		Status: status,
		Kind:   pipeline.BodyComplete,
		Body:   []byte(fmt.Sprintf(errorPage, status, html.EscapeString(msg))),
		Headers: []pipeline.Header{
			{Name: "Content-Type", Value: "text/html; charset=utf-8"},
		},
	})
}
