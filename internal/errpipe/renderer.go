// Package errpipe wires a FailDecision's *zerr.Error to a final
// pipeline.Response, per spec.md §4.8.
package errpipe

import (
	"encoding/json"

	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/zctx"
	"github.com/monstercameron/zerver/internal/zerr"
)

// body is the JSON shape of the default error response, mirroring the
// teacher's writeError helper's {"error": "..."} convention.
type body struct {
	Error  string `json:"error"`
	Entity string `json:"entity,omitempty"`
}

// DefaultRenderer maps base.LastError to a JSON error Response via
// zerr.Status, the default pipeline.Renderer a Server installs when the
// caller doesn't supply its own.
func DefaultRenderer(base *zctx.CtxBase) pipeline.Decision {
	err := base.LastError
	if err == nil {
		err = zerr.New(zerr.Internal, "pipeline", "fail decision carried no error")
	}

	payload := body{Error: err.Reason, Entity: err.Entity}
	if payload.Error == "" {
		payload.Error = string(err.Kind)
	}
	raw, encErr := json.Marshal(payload)
	if encErr != nil {
		raw = []byte(`{"error":"internal error"}`)
	}

	return pipeline.Done(pipeline.Response{
		Status: zerr.Status(err.Kind),
		Kind:   pipeline.BodyComplete,
		Body:   raw,
		Headers: []pipeline.Header{
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
	})
}

// WrapRenderer lets a caller run their own pipeline.Renderer first and
// fall back to DefaultRenderer when it reports false, so a Server can
// override only the error kinds it cares to customize.
func WrapRenderer(custom func(base *zctx.CtxBase) (pipeline.Response, bool)) pipeline.Renderer {
	return func(base *zctx.CtxBase) pipeline.Decision {
		if custom != nil {
			if resp, ok := custom(base); ok {
				return pipeline.Done(resp)
			}
		}
		return DefaultRenderer(base)
	}
}
