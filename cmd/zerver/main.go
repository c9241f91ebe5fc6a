// Command zerver runs a demo Zerver server: three HTTP routes (two of
// them backed by the SQLite demo effect backend), one Markdown-rendering
// route, and a
// trace introspection endpoint — grounded on cmd/claudeops/main.go's
// cobra+viper flag wiring and signal-driven shutdown.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/monstercameron/zerver"
	"github.com/monstercameron/zerver/internal/demodb"
	"github.com/monstercameron/zerver/internal/demodispatch"
	"github.com/monstercameron/zerver/internal/democompute"
	"github.com/monstercameron/zerver/internal/demohttp"
	"github.com/monstercameron/zerver/internal/demorender"
	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/router"
	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/trace"
	"github.com/monstercameron/zerver/internal/zctx"
	"github.com/monstercameron/zerver/internal/zerr"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zerver",
		Short: "Typed slot/step/effect pipeline HTTP server",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("addr", ":8080", "address to listen on")
	f.Int("max-iterations", pipeline.DefaultMaxIterations, "max steps per request before aborting")
	f.Int("max-concurrent-effects", 10, "max effects dispatched in parallel per request")
	f.StringSlice("allowed-hosts", nil, "hostnames HttpCall effects may reach (empty allows none)")
	f.String("db-path", "zerver.db", "path to the demo SQLite database")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("addr", "addr")
	bindFlag("max_iterations", "max-iterations")
	bindFlag("max_concurrent_effects", "max-concurrent-effects")
	bindFlag("allowed_hosts", "allowed-hosts")
	bindFlag("db_path", "db-path")

	viper.SetEnvPrefix("ZERVER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := zerver.Load(viper.GetViper())
	dbPath := viper.GetString("db_path")

	slog.Info("zerver starting", "addr", cfg.Addr, "db_path", dbPath)

	db, err := demodb.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open demo database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	backend := demodispatch.New(demodb.NewHandler(db), democompute.NewHandler(), demohttp.NewHandler())
	srv := zerver.New(cfg, backend)

	ring := trace.NewRingSink(500)
	srv.SetSink(trace.Multi{ring, trace.NewSlogSink(nil)})
	srv.SetRenderer(demorender.Renderer)

	registerRoutes(srv, ring)

	if err := srv.Verify(); err != nil {
		return fmt.Errorf("slot schema verification: %w", err)
	}

	return srv.Listen(cfg.Addr)
}

// registerRoutes wires the demo routes SPEC_FULL.md §10 names: a
// trivial GET, a DB-backed read, a DB-backed write, a Markdown render,
// and a trace introspection endpoint.
func registerRoutes(srv *zerver.Server, ring *trace.RingSink) {
	schema := srv.Schema()

	todoSlot := slot.Declare[[]byte](schema, "cmd.todoResult")
	markdownSlot := demorender.DeclareMarkdownSlot(schema)

	srv.AddRoute("GET", "/hello", router.RouteSpec{
		Steps: []pipeline.Step{
			{
				Name: "hello.respond",
				Fn: func(v *zctx.View) pipeline.Decision {
					return pipeline.Done(pipeline.Response{
						Status: 200,
						Kind:   pipeline.BodyComplete,
						Body:   []byte("Hello, Zerver!"),
						Headers: []pipeline.Header{
							{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
						},
					})
				},
			},
		},
	})

	srv.AddRoute("GET", "/todos/:id", router.RouteSpec{
		Steps: []pipeline.Step{
			{
				Name:   "todos.fetch",
				Writes: slot.Set{todoSlot},
				Fn: func(v *zctx.View) pipeline.Decision {
					id := v.Base().Req.PathParams["id"]
					return pipeline.NeedEffects(pipeline.Need{
						Effects: []pipeline.Effect{
							{Kind: pipeline.KindDbGet, Key: "todo:" + id, Token: todoSlot, Required: true},
						},
						Mode:         pipeline.Sequential,
						Join:         pipeline.JoinAllRequired,
						Continuation: "todos.render",
					})
				},
			},
			{
				Name:  "todos.render",
				Reads: slot.Set{todoSlot},
				Fn: func(v *zctx.View) pipeline.Decision {
					val, err := zctx.Require[[]byte](v, todoSlot)
					if err != nil {
						return pipeline.Fail(err)
					}
					return pipeline.Done(pipeline.Response{
						Status: 200,
						Kind:   pipeline.BodyComplete,
						Body:   val,
						Headers: []pipeline.Header{
							{Name: "Content-Type", Value: "application/json; charset=utf-8"},
						},
					})
				},
			},
		},
	})

	srv.AddRoute("POST", "/todos", router.RouteSpec{
		Steps: []pipeline.Step{
			{
				Name:   "todos.create",
				Writes: slot.Set{todoSlot},
				Fn: func(v *zctx.View) pipeline.Decision {
					title := strings.TrimSpace(string(v.Base().Req.Body))
					if title == "" {
						return pipeline.Fail(zerr.New(zerr.InvalidInput, "todos", "title must not be empty"))
					}
					return pipeline.NeedEffects(pipeline.Need{
						Effects: []pipeline.Effect{
							{
								Kind:     pipeline.KindDbQuery,
								SQL:      `INSERT INTO todos (title) VALUES ($1)`,
								Params:   []any{title},
								Token:    todoSlot,
								Required: true,
							},
						},
						Mode:         pipeline.Sequential,
						Join:         pipeline.JoinAllRequired,
						Continuation: "todos.created",
					})
				},
			},
			{
				Name:  "todos.created",
				Reads: slot.Set{todoSlot},
				Fn: func(v *zctx.View) pipeline.Decision {
					return pipeline.Done(pipeline.Response{
						Status: 201,
						Kind:   pipeline.BodyComplete,
						Body:   []byte(`{"status":"created"}`),
						Headers: []pipeline.Header{
							{Name: "Content-Type", Value: "application/json; charset=utf-8"},
						},
					})
				},
			},
		},
	})

	srv.AddRoute("GET", "/render", router.RouteSpec{
		Steps: []pipeline.Step{
			{
				Name:   "render.source",
				Writes: slot.Set{markdownSlot},
				Fn: func(v *zctx.View) pipeline.Decision {
					zctx.Put[string](v, markdownSlot, "# Zerver\n\nA typed slot/step/effect pipeline server.")
					return pipeline.Continue()
				},
			},
			demorender.RenderStep(markdownSlot),
		},
	})

	srv.AddRoute("GET", "/debug/trace", router.RouteSpec{
		Steps: []pipeline.Step{
			{
				Name: "debug.trace",
				Fn: func(v *zctx.View) pipeline.Decision {
					body, err := json.Marshal(traceSnapshot(ring))
					if err != nil {
						return pipeline.Fail(zerr.New(zerr.Internal, "debug.trace", err.Error()))
					}
					return pipeline.Done(pipeline.Response{
						Status: 200,
						Kind:   pipeline.BodyComplete,
						Body:   body,
						Headers: []pipeline.Header{
							{Name: "Content-Type", Value: "application/json; charset=utf-8"},
						},
					})
				},
			},
		},
	})
}

// traceEntry is the JSON shape /debug/trace emits per event, trimming
// trace.Event down to fields meaningful outside the process.
type traceEntry struct {
	Kind       string         `json:"kind"`
	RequestID  string         `json:"request_id"`
	Name       string         `json:"name"`
	DurationMs float64        `json:"duration_ms"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func traceSnapshot(ring *trace.RingSink) []traceEntry {
	events := ring.Snapshot()
	out := make([]traceEntry, len(events))
	for i, e := range events {
		out[i] = traceEntry{
			Kind:       string(e.Kind),
			RequestID:  e.RequestID,
			Name:       e.Name,
			DurationMs: float64(e.Duration.Microseconds()) / 1000,
			Fields:     e.Fields,
		}
	}
	return out
}
