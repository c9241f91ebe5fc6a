// Package effect implements the Effect Executor: it dispatches the
// Effect IR a step's Need carries, enforces security policy and
// resource budgets ahead of dispatch, joins parallel batches per their
// Join strategy, and runs compensations on rollback.
package effect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/trace"
	"github.com/monstercameron/zerver/internal/zctx"
	"github.com/monstercameron/zerver/internal/zerr"
)

// Executor implements pipeline.Executor, backing every Need a step
// yields with a caller-supplied Handler.
type Executor struct {
	Handler Handler
	Policy  SecurityPolicy
	Sink    trace.Sink
}

// NewExecutor constructs an Executor; Sink defaults to trace.Noop{} when nil.
func NewExecutor(handler Handler, policy SecurityPolicy, sink trace.Sink) *Executor {
	if sink == nil {
		sink = trace.Noop{}
	}
	return &Executor{Handler: handler, Policy: policy, Sink: sink}
}

// outcome is one effect's dispatch result, tracked internally for join
// and compensation bookkeeping.
type outcome struct {
	index     int
	completed bool
	ok        bool
	result    pipeline.EffectResult
}

// Execute runs need's effects against base, per spec.md §4.5. A non-nil
// return aborts the whole request (policy rejection, budget exhaustion,
// or an AllRequired/FirstSuccess batch failure); individual optional
// effect failures are instead recorded into their own token slots.
func (e *Executor) Execute(base *zctx.CtxBase, need pipeline.Need, budget pipeline.ResourceBudget) *zerr.Error {
	if budget.MaxTotalEffects > 0 && base.EffectsDispatched()+len(need.Effects) > budget.MaxTotalEffects {
		return zerr.New(zerr.Internal, "effect", "max_total_effects exceeded")
	}

	for _, eff := range need.Effects {
		if err := e.Policy.validate(eff); err != nil {
			return zerr.New(zerr.Forbidden, "effect", err.Error())
		}
	}

	switch need.Mode {
	case pipeline.Parallel:
		return e.runParallel(base, need, budget)
	default:
		return e.runSequential(base, need, budget)
	}
}

func (e *Executor) runSequential(base *zctx.CtxBase, need pipeline.Need, budget pipeline.ResourceBudget) *zerr.Error {
	completed := make([]int, 0, len(need.Effects))

	for i, eff := range need.Effects {
		res, err := e.dispatch(base, eff, budget)
		e.writeResult(base, eff, res)

		if res.OK {
			completed = append(completed, i)
			continue
		}

		required := eff.Required || need.Join == pipeline.JoinAllRequired
		if !required {
			continue
		}

		e.runCompensations(base, need, completed)
		reason := "effect failed"
		if err != nil {
			reason = err.Error()
		}
		return zerr.New(zerr.UpstreamUnavailable, "effect", reason).WithContext(string(eff.Kind))
	}
	return nil
}

func (e *Executor) runParallel(base *zctx.CtxBase, need pipeline.Need, budget pipeline.ResourceBudget) *zerr.Error {
	limit := budget.MaxConcurrentEffects
	if limit <= 0 {
		limit = len(need.Effects)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]outcome, len(need.Effects))
	var mu sync.Mutex
	successCh := make(chan int, len(need.Effects))

	for i, eff := range need.Effects {
		i, eff := i, eff
		g.Go(func() error {
			res, _ := e.dispatchCtx(gctx, base, eff, budget)
			e.writeResult(base, eff, res)

			mu.Lock()
			results[i] = outcome{index: i, completed: true, ok: res.OK, result: res}
			mu.Unlock()

			if res.OK {
				select {
				case successCh <- i:
				default:
				}
			}
			return nil
		})
	}

	switch need.Join {
	case pipeline.JoinAny, pipeline.JoinFirstSuccess:
		return e.joinAny(g, cancel, successCh, base, need, results, need.Join == pipeline.JoinFirstSuccess)
	case pipeline.JoinAllRequired:
		g.Wait()
		return e.joinAllRequired(base, need, results)
	default: // JoinAll
		g.Wait()
		return nil
	}
}

func (e *Executor) joinAny(g *errgroup.Group, cancel context.CancelFunc, successCh chan int, base *zctx.CtxBase, need pipeline.Need, results []outcome, mustSucceed bool) *zerr.Error {
	done := make(chan struct{})
	go func() { g.Wait(); close(done) }()

	select {
	case winner := <-successCh:
		// complete_all lets losers run to completion undisturbed, per
		// spec.md §5; only cancel_only/cancel_and_compensate signal them
		// to stop. Either way we wait for every effect to actually finish
		// before returning, so complete_all's losers are never cut short
		// by the outer runParallel's deferred context cancellation.
		if need.Cancellation != pipeline.CompleteAll {
			cancel()
		}
		<-done
		if need.Cancellation == pipeline.CancelAndCompensate {
			e.compensateIncomplete(base, need, results, winner)
		}
		return nil
	case <-done:
		if mustSucceed {
			for _, o := range results {
				if o.ok {
					return nil
				}
			}
			return zerr.New(zerr.UpstreamUnavailable, "effect", "all effects in first_success batch failed")
		}
		return nil
	}
}

func (e *Executor) joinAllRequired(base *zctx.CtxBase, need pipeline.Need, results []outcome) *zerr.Error {
	var completed []int
	for _, o := range results {
		if o.ok {
			completed = append(completed, o.index)
			continue
		}
		e.runCompensations(base, need, completed)
		return zerr.New(zerr.UpstreamUnavailable, "effect", "effect failed in all_required batch").WithContext(string(need.Effects[o.index].Kind))
	}
	return nil
}

// compensateIncomplete runs compensations for indices whose effect
// finished successfully but lost a CancelAndCompensate join.
func (e *Executor) compensateIncomplete(base *zctx.CtxBase, need pipeline.Need, results []outcome, winner int) {
	var completed []int
	for _, o := range results {
		if o.completed && o.ok && o.index != winner {
			completed = append(completed, o.index)
		}
	}
	e.runCompensations(base, need, completed)
}

func (e *Executor) dispatch(base *zctx.CtxBase, eff pipeline.Effect, budget pipeline.ResourceBudget) (pipeline.EffectResult, error) {
	return e.dispatchCtx(context.Background(), base, eff, budget)
}

func (e *Executor) dispatchCtx(ctx context.Context, base *zctx.CtxBase, eff pipeline.Effect, budget pipeline.ResourceBudget) (pipeline.EffectResult, error) {
	if budget.MaxCPUMillis > 0 && eff.CPUBudgetMillis > budget.MaxCPUMillis {
		return pipeline.EffectResult{Token: eff.Token, OK: false, Err: fmt.Errorf("cpu budget exceeded")}, fmt.Errorf("cpu budget exceeded")
	}

	base.AddEffectsDispatched(1)

	start := time.Now()
	e.Sink.Emit(trace.Event{Kind: trace.EffectStart, RequestID: base.RequestID, Name: string(eff.Kind), At: start})

	if eff.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(eff.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	res, err := e.Handler.Execute(ctx, eff)
	res.Token = eff.Token
	if err != nil {
		res.OK = false
		res.Err = err
	}

	e.Sink.Emit(trace.Event{Kind: trace.EffectEnd, RequestID: base.RequestID, Name: string(eff.Kind),
		At: time.Now(), Duration: time.Since(start), Fields: map[string]any{"ok": res.OK}})

	return res, err
}

func (e *Executor) writeResult(base *zctx.CtxBase, eff pipeline.Effect, res pipeline.EffectResult) {
	view := zctx.NewView(base, nil, slot.Set{eff.Token})
	if res.OK {
		_ = zctx.PutBytes(view, eff.Token, res.Value)
	} else {
		_ = zctx.PutBytes(view, eff.Token, nil)
	}
	e.Sink.Emit(trace.Event{
		Kind:      trace.SlotWrite,
		RequestID: base.RequestID,
		Name:      base.Schema.NameOf(eff.Token),
		At:        time.Now(),
		Fields:    map[string]any{"effect": string(eff.Kind), "ok": res.OK},
	})
}

// runCompensations runs need.Compensations for the given completed
// effect indices, in reverse order, per spec.md §4.5. Compensation
// failures are aggregated with multierr and logged but never block
// subsequent compensations from running.
func (e *Executor) runCompensations(base *zctx.CtxBase, need pipeline.Need, completed []int) {
	if len(need.Compensations) == 0 {
		return
	}

	var errs error
	for i := len(completed) - 1; i >= 0; i-- {
		idx := completed[i]
		if idx >= len(need.Compensations) {
			continue
		}
		comp := need.Compensations[idx]
		_, err := e.dispatch(base, comp, pipeline.ResourceBudget{})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("compensation for effect %d: %w", idx, err))
		}
	}

	if errs != nil {
		e.Sink.Emit(trace.Event{Kind: trace.EffectEnd, RequestID: base.RequestID, Name: "compensation",
			At: time.Now(), Fields: map[string]any{"error": errs.Error()}})
	}
}

