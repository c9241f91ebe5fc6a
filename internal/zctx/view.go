package zctx

import (
	"fmt"
	"reflect"

	"github.com/monstercameron/zerver/internal/slot"
	"github.com/monstercameron/zerver/internal/zerr"
)

// View is the typed, permission-checked accessor a step actually
// receives. It is parameterized (at construction, not at the Go type
// level — see DESIGN.md's Open Question notes) by the step's declared
// reads and writes sets; it borrows the CtxBase for the duration of one
// step invocation and does not own it.
//
// Go has no facility to reject, at compile time, a call to Require for
// a slot outside a dynamically-supplied reads set — that would need
// per-step generated types. View instead panics on a permission
// violation. Route registration (internal/router) does not check a
// step's declared reads/writes against the rest of its route, so such a
// violation is first detected here, at run time; the trampoline's
// recover turns the panic into an Internal error (spec.md §4.2/§7).
type View struct {
	base   *CtxBase
	reads  slot.Set
	writes slot.Set
}

// NewView constructs a View over base, scoped to the given declared
// reads and writes.
func NewView(base *CtxBase, reads, writes slot.Set) *View {
	return &View{base: base, reads: reads, writes: writes}
}

// Base returns the underlying CtxBase — the escape hatch for the arena,
// request fields, and request id.
func (v *View) Base() *CtxBase {
	return v.base
}

func (v *View) checkType(id slot.ID, want reflect.Type) {
	got, ok := v.base.Schema.TypeOf(id)
	if !ok {
		panic(fmt.Sprintf("zctx: slot %d not declared in schema", id))
	}
	if got != want {
		panic(fmt.Sprintf("zctx: slot %d type mismatch: schema has %s, accessor used %s", id, got, want))
	}
}

// Require reads a filled, typed slot. It panics if id is not in the
// view's declared reads (a step reading outside its declarations);
// it returns a SlotNotFilled Internal error if the slot has no value
// yet — that is a legitimate runtime condition (a step running before
// its dependency did) and must not panic.
func Require[T any](v *View, id slot.ID) (T, *zerr.Error) {
	var zero T
	if !v.reads.Contains(id) {
		panic(fmt.Sprintf("zctx: Require(%d) called outside declared reads", id))
	}
	v.checkType(id, reflect.TypeOf(zero))
	v.base.markRead(id)

	e, filled := v.base.rawGet(id)
	if !filled {
		name := v.base.Schema.NameOf(id)
		return zero, zerr.New(zerr.Internal, "slot", "SlotNotFilled").WithContext(name)
	}
	val, ok := e.value.(T)
	if !ok {
		return zero, zerr.New(zerr.Internal, "slot", "type assertion failed")
	}
	return val, nil
}

// Optional reads a slot that may not be filled yet, returning the zero
// value and false if absent.
func Optional[T any](v *View, id slot.ID) (T, bool) {
	var zero T
	if !v.reads.Contains(id) {
		panic(fmt.Sprintf("zctx: Optional(%d) called outside declared reads", id))
	}
	v.checkType(id, reflect.TypeOf(zero))
	v.base.markRead(id)

	e, filled := v.base.rawGet(id)
	if !filled {
		return zero, false
	}
	val, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return val, true
}

// Put stores value into id. It panics if id is not in the view's
// declared writes.
func Put[T any](v *View, id slot.ID, value T) {
	if !v.writes.Contains(id) {
		panic(fmt.Sprintf("zctx: Put(%d) called outside declared writes", id))
	}
	v.checkType(id, reflect.TypeOf(value))
	v.base.rawPut(id, value)
	v.base.markWrite(id)
}

// PutBytes is a convenience wrapper that copies b through the arena
// before storing it, enforcing the "arena-owned bytes" invariant for
// []byte-typed slots.
func PutBytes(v *View, id slot.ID, b []byte) error {
	owned, err := v.base.Arena.CopyBytes(b)
	if err != nil {
		return err
	}
	Put[[]byte](v, id, owned)
	return nil
}
