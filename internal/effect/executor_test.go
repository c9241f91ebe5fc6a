package effect

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/trace"
	"github.com/monstercameron/zerver/internal/zctx"
	"github.com/monstercameron/zerver/internal/zerr"
)

func newExecTestCtx() (*zctx.CtxBase, slot.ID, slot.ID) {
	schema := slot.NewSchema()
	a := slot.Declare[[]byte](schema, "a")
	b := slot.Declare[[]byte](schema, "b")
	base := zctx.New(schema, zctx.Request{}, 0)
	return base, a, b
}

func readSlot(t *testing.T, base *zctx.CtxBase, id slot.ID) ([]byte, bool) {
	t.Helper()
	view := zctx.NewView(base, slot.Set{id}, nil)
	return zctx.Optional[[]byte](view, id)
}

func TestSequentialSuccessWritesAllTokens(t *testing.T) {
	base, a, b := newExecTestCtx()
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		return pipeline.EffectResult{OK: true, Value: []byte(e.Key)}, nil
	})
	ex := NewExecutor(handler, DefaultSecurityPolicy(), trace.Noop{})

	need := pipeline.Need{
		Mode: pipeline.Sequential,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindDbGet, Token: a, Key: "alpha"},
			{Kind: pipeline.KindDbGet, Token: b, Key: "beta"},
		},
	}

	if err := ex.Execute(base, need, pipeline.DefaultBudget()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	va, _ := readSlot(t, base, a)
	vb, _ := readSlot(t, base, b)
	if string(va) != "alpha" || string(vb) != "beta" {
		t.Fatalf("expected alpha/beta, got %q/%q", va, vb)
	}
}

func TestSequentialRequiredFailureAbortsBatch(t *testing.T) {
	base, a, b := newExecTestCtx()
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		if e.Key == "fails" {
			return pipeline.EffectResult{OK: false}, errors.New("boom")
		}
		return pipeline.EffectResult{OK: true, Value: []byte("ok")}, nil
	})
	ex := NewExecutor(handler, DefaultSecurityPolicy(), trace.Noop{})

	need := pipeline.Need{
		Mode: pipeline.Sequential,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindDbGet, Token: a, Key: "fails", Required: true},
			{Kind: pipeline.KindDbGet, Token: b, Key: "never-runs"},
		},
	}

	err := ex.Execute(base, need, pipeline.DefaultBudget())
	if err == nil {
		t.Fatal("expected required failure to abort the batch")
	}

	_, filled := readSlot(t, base, b)
	if filled {
		t.Fatal("expected second effect to never run after required failure")
	}
}

func TestSequentialOptionalFailureContinues(t *testing.T) {
	base, a, b := newExecTestCtx()
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		if e.Key == "fails" {
			return pipeline.EffectResult{OK: false}, errors.New("boom")
		}
		return pipeline.EffectResult{OK: true, Value: []byte("ok")}, nil
	})
	ex := NewExecutor(handler, DefaultSecurityPolicy(), trace.Noop{})

	need := pipeline.Need{
		Mode: pipeline.Sequential,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindDbGet, Token: a, Key: "fails", Required: false},
			{Kind: pipeline.KindDbGet, Token: b, Key: "runs"},
		},
	}

	if err := ex.Execute(base, need, pipeline.DefaultBudget()); err != nil {
		t.Fatalf("unexpected abort on optional failure: %v", err)
	}

	vb, filled := readSlot(t, base, b)
	if !filled || string(vb) != "ok" {
		t.Fatalf("expected second effect to run, got %q filled=%v", vb, filled)
	}
}

func TestParallelAllRequiredCompensatesOnlyCompletedEffects(t *testing.T) {
	base, a, b := newExecTestCtx()
	var order []string
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		switch e.Kind {
		case pipeline.KindCompensate:
			order = append(order, e.Key)
			return pipeline.EffectResult{OK: true}, nil
		default:
			if e.Key == "bad" {
				return pipeline.EffectResult{OK: false}, errors.New("fail")
			}
			return pipeline.EffectResult{OK: true, Value: []byte("ok")}, nil
		}
	})
	ex := NewExecutor(handler, DefaultSecurityPolicy(), trace.Noop{})

	need := pipeline.Need{
		Mode: pipeline.Parallel,
		Join: pipeline.JoinAllRequired,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindDbPut, Token: a, Key: "good"},
			{Kind: pipeline.KindDbPut, Token: b, Key: "bad"},
		},
		Compensations: []pipeline.Effect{
			{Kind: pipeline.KindCompensate, Key: "undo-good"},
			{Kind: pipeline.KindCompensate, Key: "undo-bad"},
		},
	}

	err := ex.Execute(base, need, pipeline.DefaultBudget())
	if err == nil {
		t.Fatal("expected all_required batch with one failure to abort")
	}
	if len(order) != 1 || order[0] != "undo-good" {
		t.Fatalf("expected only the completed effect's compensation to run, got %v", order)
	}
}

func TestParallelAnyCancelsOnFirstSuccess(t *testing.T) {
	base, a, b := newExecTestCtx()
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		if e.Key == "fast" {
			return pipeline.EffectResult{OK: true, Value: []byte("won")}, nil
		}
		<-ctx.Done()
		return pipeline.EffectResult{OK: false}, ctx.Err()
	})
	ex := NewExecutor(handler, DefaultSecurityPolicy(), trace.Noop{})

	need := pipeline.Need{
		Mode: pipeline.Parallel,
		Join: pipeline.JoinAny,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindHttpCall, Token: a, Key: "fast"},
			{Kind: pipeline.KindHttpCall, Token: b, Key: "slow"},
		},
	}

	if err := ex.Execute(base, need, pipeline.DefaultBudget()); err != nil {
		t.Fatalf("unexpected error from any-join: %v", err)
	}
}

func TestParallelAnyCompleteAllLetsLoserRunToCompletion(t *testing.T) {
	base, a, b := newExecTestCtx()
	var sawCancel int32
	release := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		if e.Key == "fast" {
			return pipeline.EffectResult{OK: true, Value: []byte("won")}, nil
		}
		<-release // held open until the test has let the join settle
		if ctx.Err() != nil {
			atomic.StoreInt32(&sawCancel, 1)
		}
		return pipeline.EffectResult{OK: true, Value: []byte("finished")}, nil
	})
	ex := NewExecutor(handler, DefaultSecurityPolicy(), trace.Noop{})

	need := pipeline.Need{
		Mode:         pipeline.Parallel,
		Join:         pipeline.JoinAny,
		Cancellation: pipeline.CompleteAll,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindHttpCall, Token: a, Key: "fast"},
			{Kind: pipeline.KindHttpCall, Token: b, Key: "slow"},
		},
	}

	result := make(chan *zerr.Error, 1)
	go func() { result <- ex.Execute(base, need, pipeline.DefaultBudget()) }()

	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-result; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&sawCancel) != 0 {
		t.Fatal("expected complete_all to leave the loser's context uncancelled")
	}
}

func TestSequentialSuccessEmitsSlotWritePerEffect(t *testing.T) {
	base, a, b := newExecTestCtx()
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		return pipeline.EffectResult{OK: true, Value: []byte(e.Key)}, nil
	})
	sink := trace.NewRingSink(8)
	ex := NewExecutor(handler, DefaultSecurityPolicy(), sink)

	need := pipeline.Need{
		Mode: pipeline.Sequential,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindDbGet, Token: a, Key: "alpha"},
			{Kind: pipeline.KindDbGet, Token: b, Key: "beta"},
		},
	}

	if err := ex.Execute(base, need, pipeline.DefaultBudget()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var writes []trace.Event
	for _, e := range sink.Snapshot() {
		if e.Kind == trace.SlotWrite {
			writes = append(writes, e)
		}
	}
	if len(writes) != 2 {
		t.Fatalf("expected a slot_write event per effect, got %d: %v", len(writes), writes)
	}
}

func TestSecurityViolationAbortsBeforeDispatch(t *testing.T) {
	base, a, _ := newExecTestCtx()
	dispatched := false
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		dispatched = true
		return pipeline.EffectResult{OK: true}, nil
	})
	policy := DefaultSecurityPolicy()
	policy.AllowedHosts = []string{"api.trusted.com"}
	ex := NewExecutor(handler, policy, trace.Noop{})

	need := pipeline.Need{
		Mode: pipeline.Sequential,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindHttpCall, Token: a, URL: "http://169.254.169.254/"},
		},
	}

	err := ex.Execute(base, need, pipeline.DefaultBudget())
	if err == nil {
		t.Fatal("expected SSRF attempt to be rejected")
	}
	if dispatched {
		t.Fatal("expected the effect to never reach the handler")
	}
}

func TestMaxTotalEffectsExceeded(t *testing.T) {
	base, a, b := newExecTestCtx()
	handler := HandlerFunc(func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
		return pipeline.EffectResult{OK: true, Value: []byte("ok")}, nil
	})
	ex := NewExecutor(handler, DefaultSecurityPolicy(), trace.Noop{})

	need := pipeline.Need{
		Mode: pipeline.Sequential,
		Effects: []pipeline.Effect{
			{Kind: pipeline.KindDbGet, Token: a, Key: "one"},
			{Kind: pipeline.KindDbGet, Token: b, Key: "two"},
		},
	}
	budget := pipeline.DefaultBudget()
	budget.MaxTotalEffects = 1

	err := ex.Execute(base, need, budget)
	if err == nil {
		t.Fatal("expected max_total_effects to be enforced")
	}
}
