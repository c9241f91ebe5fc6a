package pipeline

import (
	"fmt"
	"time"

	"github.com/monstercameron/zerver/internal/trace"
	"github.com/monstercameron/zerver/internal/zctx"
	"github.com/monstercameron/zerver/internal/zerr"
)

// ResourceBudget bounds the Effect Executor's resource usage for a
// single request, per spec.md §4.5/§6.
type ResourceBudget struct {
	MaxCPUMillis         int
	MaxMemoryBytes       int
	MaxOutboundBytes     int
	MaxConcurrentEffects int
	MaxTotalEffects      int
}

// DefaultBudget matches the configuration defaults listed in spec.md §6.
func DefaultBudget() ResourceBudget {
	return ResourceBudget{
		MaxCPUMillis:         0,
		MaxMemoryBytes:       100 << 20,
		MaxOutboundBytes:     1 << 20,
		MaxConcurrentEffects: 10,
		MaxTotalEffects:      50,
	}
}

// Executor is the interface the Effect Executor (internal/effect)
// implements. The Interpreter depends only on this interface so that
// pipeline has no import on effect, keeping the dependency graph
// acyclic (effect imports pipeline, not the reverse).
type Executor interface {
	// Execute runs need's effects against base's slot store, subject to
	// budget. It returns a non-nil *zerr.Error only when the batch as a
	// whole must abort the request (e.g. AllRequired failure, budget
	// exhaustion); individual optional effect failures are recorded in
	// their own token slots instead.
	Execute(base *zctx.CtxBase, need Need, budget ResourceBudget) *zerr.Error
}

// Renderer is the pluggable error-to-response mapping a Fail decision is
// routed through, per spec.md §4.8.
type Renderer func(base *zctx.CtxBase) Decision

// DefaultMaxIterations is the spec.md §6 default for max_iterations.
const DefaultMaxIterations = 100

// Interpreter drives a route's step sequence to completion, per
// spec.md §4.4.
type Interpreter struct {
	Executor      Executor
	Renderer      Renderer
	Sink          trace.Sink
	MaxIterations int
}

// NewInterpreter constructs an Interpreter with spec.md defaults; Sink
// defaults to trace.Noop{} and MaxIterations to DefaultMaxIterations
// when zero values are passed.
func NewInterpreter(executor Executor, renderer Renderer, sink trace.Sink, maxIterations int) *Interpreter {
	if sink == nil {
		sink = trace.Noop{}
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Interpreter{Executor: executor, Renderer: renderer, Sink: sink, MaxIterations: maxIterations}
}

// Run executes steps (already the concatenation of global-before,
// route-before, and route steps, in that order) against base, handing
// off to the Executor at every Need boundary, and returns the final
// Response.
func (in *Interpreter) Run(base *zctx.CtxBase, steps []Step, budget ResourceBudget) Response {
	in.Sink.Emit(trace.Event{Kind: trace.RequestStart, RequestID: base.RequestID, At: now()})

	resp, err := in.run(base, steps, budget)
	if err != nil {
		resp = in.renderFailure(base, err)
	}

	in.Sink.Emit(trace.Event{Kind: trace.RequestEnd, RequestID: base.RequestID, At: now(),
		Fields: map[string]any{"status": resp.Status}})
	return resp
}

func (in *Interpreter) run(base *zctx.CtxBase, steps []Step, budget ResourceBudget) (Response, *zerr.Error) {
	index := 0
	for {
		if index >= len(steps) {
			return Response{}, zerr.New(zerr.Internal, "pipeline", "PipelineEndedWithoutDecision")
		}

		base.Iterations++
		if base.Iterations > in.MaxIterations {
			return Response{}, zerr.New(zerr.Internal, "pipeline", "max_iterations exceeded")
		}

		step := steps[index]
		start := now()
		in.Sink.Emit(trace.Event{Kind: trace.StepStart, RequestID: base.RequestID, Name: step.Name, At: start})

		decision := RunStep(base, step, in.Sink)

		in.Sink.Emit(trace.Event{Kind: trace.StepEnd, RequestID: base.RequestID, Name: step.Name, At: now(),
			Duration: now().Sub(start), Fields: map[string]any{"decision": decisionTag(decision)}})

		switch d := decision.(type) {
		case ContinueDecision:
			index++
			continue

		case DoneDecision:
			return d.Response, nil

		case FailDecision:
			base.LastError = d.Err
			return Response{}, d.Err

		case NeedDecision:
			if err := in.Executor.Execute(base, d.Need, budget); err != nil {
				base.LastError = err
				return Response{}, err
			}
			next, ferr := in.resumePoint(steps, index, d.Need.Continuation)
			if ferr != nil {
				return Response{}, ferr
			}
			index = next
			continue

		default:
			return Response{}, zerr.New(zerr.Internal, "pipeline", "unknown decision type")
		}
	}
}

func (in *Interpreter) resumePoint(steps []Step, current int, continuation string) (int, *zerr.Error) {
	if continuation == "" {
		return current + 1, nil
	}
	for i, s := range steps {
		if s.Name == continuation {
			return i, nil
		}
	}
	return 0, zerr.New(zerr.Internal, "pipeline", fmt.Sprintf("continuation %q not found in step sequence", continuation))
}

// renderFailure runs the registered Renderer in its own protected
// frame: a failure inside it (panic or a further Fail) yields a
// hard-coded 500, per spec.md §4.4/§4.8/§7.
func (in *Interpreter) renderFailure(base *zctx.CtxBase, err *zerr.Error) (resp Response) {
	base.LastError = err

	defer func() {
		if r := recover(); r != nil {
			resp = hardcoded500()
		}
	}()

	if in.Renderer == nil {
		return hardcoded500()
	}

	decision := in.Renderer(base)
	switch d := decision.(type) {
	case DoneDecision:
		return d.Response
	default:
		return hardcoded500()
	}
}

func hardcoded500() Response {
	return Response{
		Status: 500,
		Kind:   BodyComplete,
		Body:   []byte("Internal Server Error"),
		Headers: []Header{
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		},
	}
}

func decisionTag(d Decision) string {
	switch d.(type) {
	case ContinueDecision:
		return "continue"
	case NeedDecision:
		return "need"
	case DoneDecision:
		return "done"
	case FailDecision:
		return "fail"
	default:
		return "unknown"
	}
}

// now is a seam so tests can make trace timestamps deterministic.
var now = time.Now
