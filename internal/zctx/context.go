// Package zctx implements the per-request context described by the
// engine's data model: CtxBase owns the arena, the parsed request view,
// the slot store, and usage-tracking state; CtxView is the typed,
// permission-checked accessor steps actually receive.
package zctx

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/zerr"
)

// Request is the parsed request view a CtxBase exposes to steps: method,
// normalized target, headers, path/query parameters, and body. It is
// produced by internal/httpcodec and is otherwise opaque data — the
// engine never re-parses it.
type Request struct {
	Method     string
	Target     string // normalized request-target, e.g. "/todos/42"
	Headers    *Headers
	PathParams map[string]string
	Query      map[string][]string
	Body       []byte
	Trailers   *Headers // populated after a chunked body with trailers is fully read
}

// QueryGet returns the first value for key, or "" if absent.
func (r *Request) QueryGet(key string) string {
	vs := r.Query[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// slotEntry is one stored slot value.
type slotEntry struct {
	value  any
	filled bool
}

// AssertionPolicy controls how strictly the step trampoline validates
// declared-vs-actual slot usage, per spec.md §4.2 and §6.
type AssertionPolicy struct {
	MustUseReads     bool
	MustUseWrites    bool
	WarnUnusedReads  bool
	WarnUnusedWrites bool
}

// CtxBase is the per-request context. It is created when a request is
// accepted and destroyed (its arena released) once the final response
// has been serialized. CtxBase is never accessed concurrently by more
// than one step; the Effect Executor may fan out effects from a single
// step's Need across goroutines, but those goroutines only write into
// the slot store at the join point, under CtxBase's own lock.
type CtxBase struct {
	Schema *slot.Schema

	RequestID string
	Req       Request

	Arena *Arena

	Policy AssertionPolicy

	storeMu sync.Mutex
	store   map[slot.ID]*slotEntry

	// effectsDispatched counts effects actually handed to the Handler
	// across every Need this request has yielded, so the Effect Executor
	// can enforce max_total_effects across (not just within) a batch.
	// Mutated via atomic ops since parallel mode dispatches concurrently.
	effectsDispatched int64

	// Usage tracking for the step currently executing. Reset by the
	// trampoline before each step invocation.
	declaredReads  slot.Bitset
	declaredWrites slot.Bitset
	actualReads    slot.Bitset
	actualWrites   slot.Bitset

	LastError *zerr.Error

	Iterations int
}

// New creates a CtxBase bound to schema, with a fresh request id and
// arena bounded by maxArenaBytes (0 = unbounded).
func New(schema *slot.Schema, req Request, maxArenaBytes int) *CtxBase {
	return &CtxBase{
		Schema:    schema,
		RequestID: uuid.NewString(),
		Req:       req,
		Arena:     NewArena(maxArenaBytes),
		store:     make(map[slot.ID]*slotEntry),
	}
}

// ResetStepUsage clears the current step's declared/actual bitsets and
// installs new declared sets. Called by the trampoline before invoking
// a step.
func (c *CtxBase) ResetStepUsage(reads, writes slot.Set) {
	c.declaredReads = slot.FromSet(reads)
	c.declaredWrites = slot.FromSet(writes)
	c.actualReads.Clear()
	c.actualWrites.Clear()
}

// AddEffectsDispatched atomically adds n to the request's dispatched
// effect count and returns the new total.
func (c *CtxBase) AddEffectsDispatched(n int) int {
	return int(atomic.AddInt64(&c.effectsDispatched, int64(n)))
}

// EffectsDispatched returns the current dispatched effect count.
func (c *CtxBase) EffectsDispatched() int {
	return int(atomic.LoadInt64(&c.effectsDispatched))
}

// markRead and markWrite record usage under storeMu so that effect
// dispatch goroutines writing into distinct slots concurrently don't
// race on the shared usage bitsets.
func (c *CtxBase) markRead(id slot.ID) {
	c.storeMu.Lock()
	c.actualReads.Set(id)
	c.storeMu.Unlock()
}

func (c *CtxBase) markWrite(id slot.ID) {
	c.storeMu.Lock()
	c.actualWrites.Set(id)
	c.storeMu.Unlock()
}

// MissingReads returns the declared read ids that were never exercised.
func (c *CtxBase) MissingReads() []slot.ID {
	return diffBitset(c.declaredReads, c.actualReads)
}

// MissingWrites returns the declared write ids that were never exercised.
func (c *CtxBase) MissingWrites() []slot.ID {
	return diffBitset(c.declaredWrites, c.actualWrites)
}

// ExercisedWrites returns the declared write ids the current step
// actually filled via Put/PutBytes, for the trampoline's slot_write
// trace emission (spec.md §4.7).
func (c *CtxBase) ExercisedWrites() []slot.ID {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	var out []slot.ID
	for i := 0; i < slot.MaxSlots; i++ {
		id := slot.ID(i)
		if c.declaredWrites.Has(id) && c.actualWrites.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

func diffBitset(declared, actual slot.Bitset) []slot.ID {
	var out []slot.ID
	for i := 0; i < slot.MaxSlots; i++ {
		id := slot.ID(i)
		if declared.Has(id) && !actual.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// rawGet returns the stored entry for id, if any. Locked because the
// Effect Executor's parallel mode fans out writes into distinct slots
// from multiple goroutines.
func (c *CtxBase) rawGet(id slot.ID) (*slotEntry, bool) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	e, ok := c.store[id]
	if !ok {
		return nil, false
	}
	return e, e.filled
}

// rawPut stores value in id's slot, overwriting any previous value.
func (c *CtxBase) rawPut(id slot.ID, value any) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.store[id] = &slotEntry{value: value, filled: true}
}

// Release returns the request's resources (currently just the arena)
// to the runtime. Called once the response has been serialized.
func (c *CtxBase) Release() {
	c.Arena.Release()
}
