package pipeline

import (
	"fmt"

	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/trace"
	"github.com/monstercameron/zerver/internal/zctx"
	"github.com/monstercameron/zerver/internal/zerr"
)

// Func is the pure step function a Step wraps: a typed, permission-
// checked View in, a Decision out. It must not block on I/O — blocking
// work is requested via a Need and performed by the Effect Executor.
type Func func(v *zctx.View) Decision

// Step carries a step function plus its declared reads/writes, per
// spec.md §3's RouteSpec. The trampoline uses Reads/Writes both to
// scope the View it builds and to validate usage on exit.
type Step struct {
	Name   string
	Fn     Func
	Reads  slot.Set
	Writes slot.Set
}

// RunStep invokes step against base through the trampoline: it resets
// usage tracking, builds a scoped View, invokes the step function with
// panic recovery, validates declared-vs-actual usage according to
// policy and the returned Decision's kind, and emits a slot_write trace
// event for each declared write the step actually exercised, per
// spec.md §4.2/§4.7. sink may be nil, in which case it defaults to
// trace.Noop{}.
//
// A panic escaping the step (including a zctx permission violation) is
// recovered here and converted to a FailDecision{Internal} — exactly
// the "engine fault" handling spec.md §7 describes for usage
// assertions, since in this Go rendition those assertions are enforced
// as runtime panics rather than as compile errors.
func RunStep(base *zctx.CtxBase, step Step, sink trace.Sink) (decision Decision) {
	if sink == nil {
		sink = trace.Noop{}
	}
	base.ResetStepUsage(step.Reads, step.Writes)
	view := zctx.NewView(base, step.Reads, step.Writes)

	defer func() {
		if r := recover(); r != nil {
			decision = Fail(zerr.New(zerr.Internal, "step", fmt.Sprintf("panic in step %q: %v", step.Name, r)))
		}
	}()

	decision = step.Fn(view)

	for _, id := range base.ExercisedWrites() {
		sink.Emit(trace.Event{
			Kind:      trace.SlotWrite,
			RequestID: base.RequestID,
			Name:      base.Schema.NameOf(id),
			At:        now(),
			Fields:    map[string]any{"step": step.Name},
		})
	}

	if err := validateUsage(base, step, decision); err != nil {
		return Fail(err)
	}
	return decision
}

func validateUsage(base *zctx.CtxBase, step Step, decision Decision) *zerr.Error {
	policy := base.Policy
	if !policy.MustUseReads && !policy.MustUseWrites && !policy.WarnUnusedReads && !policy.WarnUnusedWrites {
		return nil // assertion tracking compiled out
	}

	switch decision.(type) {
	case FailDecision:
		return nil // no validation on early exit
	case NeedDecision:
		// Declared reads must be exercised before yielding; writes may be
		// deferred to the continuation, where effect results fill them.
		if policy.MustUseReads {
			if missing := base.MissingReads(); len(missing) > 0 {
				return usageFault(base, step, "read", missing)
			}
		}
		return nil
	case ContinueDecision, DoneDecision:
		if policy.MustUseReads {
			if missing := base.MissingReads(); len(missing) > 0 {
				return usageFault(base, step, "read", missing)
			}
		}
		if policy.MustUseWrites {
			if missing := base.MissingWrites(); len(missing) > 0 {
				return usageFault(base, step, "write", missing)
			}
		}
		return nil
	default:
		return zerr.New(zerr.Internal, "step", fmt.Sprintf("step %q returned unknown decision type", step.Name))
	}
}

func usageFault(base *zctx.CtxBase, step Step, kind string, missing []slot.ID) *zerr.Error {
	names := make([]string, len(missing))
	for i, id := range missing {
		names[i] = base.Schema.NameOf(id)
	}
	return zerr.New(zerr.Internal, "step", fmt.Sprintf("step %q declared %s(s) %v never exercised", step.Name, kind, names))
}
