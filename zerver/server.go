package zerver

import (
	"strings"
	"time"

	"github.com/monstercameron/zerver/internal/effect"
	"github.com/monstercameron/zerver/internal/errpipe"
	"github.com/monstercameron/zerver/internal/httpcodec"
	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/router"
	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/trace"
	"github.com/monstercameron/zerver/internal/zctx"
)

// Server is the embedding contract spec.md §6 describes: it owns the
// slot schema, the route registry, and the pipeline interpreter/effect
// executor pair, and turns a raw HTTP/1.1 byte stream into a raw
// HTTP/1.1 response byte stream with no socket of its own — grounded on
// internal/web/server.go's Server struct-of-collaborators shape, with
// the http.ServeMux/http.Server fields replaced by router.Registry and
// httpcodec since this server owns its own wire format.
type Server struct {
	cfg Config

	schema   *slot.Schema
	registry *router.Registry

	globalBefore []pipeline.Step

	executor    *effect.Executor
	interpreter *pipeline.Interpreter
	sink        trace.Sink
}

// New constructs a Server. handler backs every effect a route's steps
// emit; it is the one caller-supplied collaborator spec.md §6 requires
// up front, matching the teacher's web.New(cfg, hub, db, mgr, registry)
// constructor shape reduced to zerver's single required collaborator.
func New(cfg Config, handler effect.Handler) *Server {
	sink := trace.Sink(trace.NewSlogSink(nil))

	s := &Server{
		cfg:      cfg,
		schema:   slot.NewSchema(),
		registry: router.NewRegistry(),
		sink:     sink,
	}
	s.executor = effect.NewExecutor(handler, cfg.Security, sink)
	s.interpreter = pipeline.NewInterpreter(s.executor, errpipe.DefaultRenderer, sink, cfg.MaxIterations)
	return s
}

// Schema exposes the Server's slot schema so application code can
// slot.Declare into it before building Steps; a Step's declared
// reads/writes are only meaningful once every slot they name is
// registered here.
func (s *Server) Schema() *slot.Schema {
	return s.schema
}

// Verify runs the slot schema's startup-time exhaustiveness check, per
// spec.md §4.1. Callers should invoke this once, after every slot has
// been declared and every route registered, before Listen or the first
// HandleRequest call.
func (s *Server) Verify() error {
	return s.schema.Verify()
}

// SetSink installs sink as the TraceSink every lifecycle event is
// emitted to, replacing the default log/slog-at-Debug sink. Passing nil
// disables tracing entirely (trace.Noop). It also rewires the
// already-constructed Executor/Interpreter, mirroring how
// internal/hub.Hub is handed to collaborators at construction time in
// the teacher.
func (s *Server) SetSink(sink trace.Sink) {
	if sink == nil {
		sink = trace.Noop{}
	}
	s.sink = sink
	s.executor.Sink = sink
	s.interpreter.Sink = sink
}

// SetRenderer overrides the default JSON ErrorRenderer (internal/errpipe.DefaultRenderer).
func (s *Server) SetRenderer(r pipeline.Renderer) {
	if r == nil {
		r = errpipe.DefaultRenderer
	}
	s.interpreter.Renderer = r
}

// Use registers global-before middleware steps, run ahead of every
// route's own Before/Steps sequence, per spec.md §4.4's
// "global_before ++ route.before ++ route.steps".
func (s *Server) Use(steps ...pipeline.Step) {
	s.globalBefore = append(s.globalBefore, steps...)
}

// AddRoute registers spec for (method, path). Registering the same
// (method, path) twice replaces the previous registration, per
// spec.md §6.
func (s *Server) AddRoute(method, path string, spec router.RouteSpec) {
	s.registry.Register(method, path, spec)
}

// HandleRequest is the pure entry point spec.md §6 requires: raw bytes
// in, a full HTTP/1.1 response (status line, headers, body) out. It
// never touches a socket, which is what makes it suitable for the
// end-to-end literal-I/O tests spec.md §8 describes.
func (s *Server) HandleRequest(raw []byte) []byte {
	now := time.Now()

	parsed, werr := httpcodec.ParseRequest(raw)
	if werr != nil {
		return httpcodec.WriteResponse(wireResponse(werr.Status, werr.Reason), "", now)
	}

	if parsed.Method == "OPTIONS" {
		return httpcodec.WriteResponse(s.handleOptions(parsed), "OPTIONS", now)
	}

	if resp := s.checkAcceptance(parsed.Headers); resp != nil {
		return httpcodec.WriteResponse(resp, parsed.Method, now)
	}

	path, rawQuery := splitTarget(parsed.Target)

	match, allowed, ok := s.registry.Dispatch(parsed.Method, path)
	if !ok {
		resp := wireResponse(405, "405 Method Not Allowed")
		resp.SetHeader("Allow", strings.Join(allowed, ", "))
		return httpcodec.WriteResponse(resp, parsed.Method, now)
	}

	base := zctx.New(s.schema, zctx.Request{
		Method:     parsed.Method,
		Target:     parsed.Target,
		Headers:    parsed.Headers,
		PathParams: match.PathParams,
		Query:      router.ParseQuery(rawQuery),
		Body:       parsed.Body,
		Trailers:   parsed.Trailers,
	}, s.cfg.MaxArenaBytes)
	base.Policy = s.cfg.Assertions
	defer base.Release()

	budget := match.Spec.Budget
	if (budget == pipeline.ResourceBudget{}) {
		budget = s.cfg.Budget
	}

	steps := make([]pipeline.Step, 0, len(s.globalBefore)+len(match.Spec.Before)+len(match.Spec.Steps))
	steps = append(steps, s.globalBefore...)
	steps = append(steps, match.Spec.Before...)
	steps = append(steps, match.Spec.Steps...)

	resp := s.interpreter.Run(base, steps, budget)
	return httpcodec.WriteResponse(&resp, parsed.Method, now)
}

// handleOptions answers an OPTIONS request without ever constructing a
// CtxBase or touching the pipeline, per spec.md §4.3 rule 6.
func (s *Server) handleOptions(parsed *httpcodec.ParsedRequest) *pipeline.Response {
	resp := pipeline.Response{Status: 200, Kind: pipeline.BodyComplete}
	if parsed.Target == "*" {
		resp.SetHeader("Allow", "OPTIONS")
		return &resp
	}
	path, _ := splitTarget(parsed.Target)
	resp.SetHeader("Allow", strings.Join(s.registry.AllowedMethods(path), ", "))
	return &resp
}

// checkAcceptance runs the Accept-family and TE request-acceptance
// checks from spec.md §4.6 ahead of routing; a non-nil Response means
// the request must be rejected (406 or 501) without ever reaching a
// step.
func (s *Server) checkAcceptance(headers *zctx.Headers) *pipeline.Response {
	neg := s.cfg.Negotiation

	checks := []struct {
		header  string
		offered []string
	}{
		{"Accept", neg.MediaTypes},
		{"Accept-Language", neg.Languages},
		{"Accept-Charset", neg.Charsets},
		{"Accept-Encoding", neg.Encodings},
	}
	for _, c := range checks {
		raw, present := headers.Get(c.header)
		if !present {
			continue
		}
		if _, unsatisfiable := httpcodec.Negotiate(raw, c.offered); unsatisfiable {
			return wireResponse(406, "406 Not Acceptable")
		}
	}

	if raw, present := headers.Get("TE"); present {
		if _, unsatisfiable := httpcodec.NegotiateTE(raw, neg.TransferCodings); unsatisfiable {
			return wireResponse(501, "501 Not Implemented")
		}
	}

	return nil
}

func wireResponse(status int, reason string) *pipeline.Response {
	return &pipeline.Response{
		Status: status,
		Kind:   pipeline.BodyComplete,
		Body:   []byte(reason),
		Headers: []pipeline.Header{
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		},
	}
}

// splitTarget separates a normalized request-target into its path and
// (still percent-encoded) query component.
func splitTarget(target string) (path, query string) {
	path, query, _ = strings.Cut(target, "?")
	return path, query
}
