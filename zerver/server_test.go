package zerver

import (
	"context"
	"strings"
	"testing"

	"github.com/monstercameron/zerver/internal/effect"
	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/router"
	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/zctx"
)

// noopHandler never dispatches any effect; used by scenarios that never
// issue a Need.
var noopHandler = effect.HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	return pipeline.EffectResult{OK: true}, nil
})

func newTestServer(handler effect.Handler) *Server {
	cfg := DefaultConfig()
	return New(cfg, handler)
}

func TestHandleRequestHappyGet(t *testing.T) {
	s := newTestServer(noopHandler)
	s.AddRoute("GET", "/hello", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "respond", Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.Done(pipeline.Response{
					Status: 200, Kind: pipeline.BodyComplete, Body: []byte("Hello, Zerver!"),
				})
			}},
		},
	})
	if err := s.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	out := s.HandleRequest([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	lines := strings.SplitN(string(out), "\r\n", 2)
	if lines[0] != "HTTP/1.1 200 OK" {
		t.Fatalf("expected 200 OK status line, got %q", lines[0])
	}
	if !strings.HasSuffix(string(out), "Hello, Zerver!") {
		t.Fatalf("expected body suffix, got %q", out)
	}
}

func TestHandleRequestParamExtraction(t *testing.T) {
	s := newTestServer(noopHandler)
	s.AddRoute("GET", "/todos/:id", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "respond", Fn: func(v *zctx.View) pipeline.Decision {
				id := v.Base().Req.PathParams["id"]
				return pipeline.Done(pipeline.Response{
					Status: 200, Kind: pipeline.BodyComplete, Body: []byte(id),
				})
			}},
		},
	})

	out := s.HandleRequest([]byte("GET /todos/42 HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasSuffix(string(out), "42") {
		t.Fatalf("expected body \"42\", got %q", out)
	}
}

func TestHandleRequestParallelEffectsJoin(t *testing.T) {
	schema := slot.NewSchema()
	userSlot := slot.Declare[[]byte](schema, "user")
	quotaSlot := slot.Declare[[]byte](schema, "quota")

	handler := effect.HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		switch e.Key {
		case "user:1":
			return pipeline.EffectResult{OK: true, Value: []byte(`{"plan":"pro"}`)}, nil
		case "quota:1":
			return pipeline.EffectResult{OK: true, Value: []byte(`{"remaining":3}`)}, nil
		}
		return pipeline.EffectResult{OK: false}, nil
	})

	s := New(DefaultConfig(), handler)
	s.schema = schema

	s.AddRoute("GET", "/profile", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "fetch", Writes: slot.Set{userSlot, quotaSlot}, Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.NeedEffects(pipeline.Need{
					Mode: pipeline.Parallel,
					Join: pipeline.JoinAllRequired,
					Effects: []pipeline.Effect{
						{Kind: pipeline.KindDbGet, Token: userSlot, Key: "user:1"},
						{Kind: pipeline.KindDbGet, Token: quotaSlot, Key: "quota:1"},
					},
					Continuation: "render",
				})
			}},
			{Name: "render", Reads: slot.Set{userSlot, quotaSlot}, Fn: func(v *zctx.View) pipeline.Decision {
				user, _ := zctx.Require[[]byte](v, userSlot)
				quota, _ := zctx.Require[[]byte](v, quotaSlot)
				return pipeline.Done(pipeline.Response{
					Status: 200, Kind: pipeline.BodyComplete,
					Body: append(append([]byte{}, user...), quota...),
				})
			}},
		},
	})

	out := s.HandleRequest([]byte("GET /profile HTTP/1.1\r\nHost: x\r\n\r\n"))
	body := string(out)
	if !strings.Contains(body, `{"plan":"pro"}`) || !strings.Contains(body, `{"remaining":3}`) {
		t.Fatalf("expected both slot values in body, got %q", body)
	}
	if !strings.HasPrefix(body, "HTTP/1.1 200") {
		t.Fatalf("expected 200 status line, got %q", body)
	}
}

func TestHandleRequestCompensationOnPartialFailure(t *testing.T) {
	schema := slot.NewSchema()
	aSlot := slot.Declare[[]byte](schema, "a")
	bSlot := slot.Declare[[]byte](schema, "b")
	cSlot := slot.Declare[[]byte](schema, "c")

	var compensated []string
	handler := effect.HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		if e.Kind == pipeline.KindCompensate {
			compensated = append(compensated, e.Key)
			return pipeline.EffectResult{OK: true}, nil
		}
		if e.Key == "B" {
			return pipeline.EffectResult{OK: false}, nil
		}
		return pipeline.EffectResult{OK: true, Value: []byte("ok")}, nil
	})

	s := New(DefaultConfig(), handler)
	s.schema = schema

	s.AddRoute("POST", "/seq", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "write", Writes: slot.Set{aSlot, bSlot, cSlot}, Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.NeedEffects(pipeline.Need{
					Mode: pipeline.Sequential,
					Join: pipeline.JoinAllRequired,
					Effects: []pipeline.Effect{
						{Kind: pipeline.KindDbPut, Token: aSlot, Key: "A"},
						{Kind: pipeline.KindDbPut, Token: bSlot, Key: "B"},
						{Kind: pipeline.KindDbPut, Token: cSlot, Key: "C"},
					},
					Compensations: []pipeline.Effect{
						{Kind: pipeline.KindCompensate, Key: "A", Action: pipeline.ActionDbDelete},
						{Kind: pipeline.KindCompensate, Key: "B", Action: pipeline.ActionDbDelete},
						{Kind: pipeline.KindCompensate, Key: "C", Action: pipeline.ActionDbDelete},
					},
				})
			}},
		},
	})

	out := s.HandleRequest([]byte("POST /seq HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"))
	if !strings.HasPrefix(string(out), "HTTP/1.1 5") {
		t.Fatalf("expected a registered 5xx response, got %q", out)
	}
	if len(compensated) != 1 || compensated[0] != "A" {
		t.Fatalf("expected compensation for A only, got %v", compensated)
	}
}

func TestHandleRequestChunkedBody(t *testing.T) {
	var seenBody []byte
	schema := slot.NewSchema()
	s := New(DefaultConfig(), noopHandler)
	s.schema = schema
	s.AddRoute("POST", "/test", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "echo", Fn: func(v *zctx.View) pipeline.Decision {
				seenBody = v.Base().Req.Body
				return pipeline.Done(pipeline.Response{Status: 200, Kind: pipeline.BodyComplete})
			}},
		},
	})

	raw := "POST /test HTTP/1.1\r\nHost:x\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n5\r\nworld\r\n0\r\n\r\n"
	s.HandleRequest([]byte(raw))

	if string(seenBody) != "helloworld" {
		t.Fatalf("expected body \"helloworld\", got %q", seenBody)
	}
}

func TestHandleRequestUndeclaredTrailerRejected(t *testing.T) {
	s := newTestServer(noopHandler)
	s.AddRoute("POST", "/test", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "echo", Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.Done(pipeline.Response{Status: 200, Kind: pipeline.BodyComplete})
			}},
		},
	})

	raw := "POST /test HTTP/1.1\r\nHost:x\r\nTransfer-Encoding: chunked\r\nTrailer: X-Allowed\r\n\r\n" +
		"5\r\nhello\r\n5\r\nworld\r\n0\r\nX-Other: nope\r\n\r\n"
	out := s.HandleRequest([]byte(raw))
	if !strings.HasPrefix(string(out), "HTTP/1.1 400 Bad Request") {
		t.Fatalf("expected 400 Bad Request, got %q", out)
	}
}

func TestHandleRequestSSRFBlocked(t *testing.T) {
	schema := slot.NewSchema()
	respSlot := slot.Declare[[]byte](schema, "resp")

	cfg := DefaultConfig()
	cfg.Security.AllowedHosts = []string{"api.trusted.com"}

	s := New(cfg, noopHandler)
	s.schema = schema
	s.AddRoute("GET", "/fetch", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "call", Writes: slot.Set{respSlot}, Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.NeedEffects(pipeline.Need{
					Mode: pipeline.Sequential,
					Effects: []pipeline.Effect{
						{Kind: pipeline.KindHttpCall, Token: respSlot, Method: "GET",
							URL: "http://169.254.169.254/", Required: true},
					},
				})
			}},
		},
	})

	out := s.HandleRequest([]byte("GET /fetch HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(string(out), "HTTP/1.1 403") {
		t.Fatalf("expected 403 Forbidden, got %q", out)
	}
}

func TestHandleRequestOptionsListsAllowedMethods(t *testing.T) {
	s := newTestServer(noopHandler)
	s.AddRoute("GET", "/known", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "respond", Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.Done(pipeline.Response{Status: 200, Kind: pipeline.BodyComplete})
			}},
		},
	})
	s.AddRoute("POST", "/known", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "respond", Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.Done(pipeline.Response{Status: 200, Kind: pipeline.BodyComplete})
			}},
		},
	})

	out := s.HandleRequest([]byte("OPTIONS /known HTTP/1.1\r\nHost: x\r\n\r\n"))
	resp := string(out)
	for _, want := range []string{"GET", "POST", "OPTIONS", "HEAD"} {
		if !strings.Contains(resp, want) {
			t.Fatalf("expected Allow header to contain %q, got %q", want, resp)
		}
	}
}

func TestHandleRequestRoutePrecedence(t *testing.T) {
	s := newTestServer(noopHandler)
	s.AddRoute("GET", "/users/me", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "me", Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.Done(pipeline.Response{Status: 200, Kind: pipeline.BodyComplete, Body: []byte("me")})
			}},
		},
	})
	s.AddRoute("GET", "/users/:id", router.RouteSpec{
		Steps: []pipeline.Step{
			{Name: "byID", Fn: func(v *zctx.View) pipeline.Decision {
				return pipeline.Done(pipeline.Response{Status: 200, Kind: pipeline.BodyComplete,
					Body: []byte(v.Base().Req.PathParams["id"])})
			}},
		},
	})

	out := s.HandleRequest([]byte("GET /users/me HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasSuffix(string(out), "me") {
		t.Fatalf("expected literal route to win, got %q", out)
	}
}
