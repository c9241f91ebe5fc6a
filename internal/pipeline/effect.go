package pipeline

import "github.com/monstercameron/zerver/internal/slot"

// EffectKind is the closed tag set for Effect, per spec.md §3. New
// effect kinds require extending this set and the executor's dispatch
// table together (spec.md §9, "polymorphism over effects") — this
// module intentionally does not expose an open/dynamic effect registry.
type EffectKind string

const (
	KindDbGet      EffectKind = "db_get"
	KindDbPut      EffectKind = "db_put"
	KindDbDel      EffectKind = "db_del"
	KindDbQuery    EffectKind = "db_query"
	KindHttpCall   EffectKind = "http_call"
	KindCompute    EffectKind = "compute"
	KindCompensate EffectKind = "compensate"
)

// CompensateAction is the closed set of reverse actions a Compensate
// effect may perform.
type CompensateAction string

const (
	ActionDbDelete     CompensateAction = "db_delete"
	ActionDbRestore    CompensateAction = "db_restore"
	ActionHttpRollback CompensateAction = "http_rollback"
	ActionCustom       CompensateAction = "custom"
)

// Effect is the tagged union of operations a step can request, per
// spec.md §3. Only the fields relevant to Kind are meaningful; the
// executor's dispatch table (internal/effect) knows which.
type Effect struct {
	Kind  EffectKind
	Token slot.ID // slot the raw result is written into

	// Required, when true, means a failure of this effect aborts its
	// batch (sequential mode) or is treated as AllRequired for a single
	// effect's purposes.
	Required bool

	// DbGet / DbDel
	Key string

	// DbPut
	Value          []byte
	IdempotencyKey string

	// DbQuery
	SQL    string
	Params []any

	// HttpCall
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Shared timing/cost controls.
	TimeoutMillis   int
	CPUBudgetMillis int
	Priority        int

	// Compute. InputSlots records which slots the operation logically
	// reads, for trace/introspection purposes, but a Handler has no
	// CtxBase to resolve them from: the step building the Need must
	// serialize whatever values Operation needs into Body itself (as
	// JSON) before emitting the effect, and a Compute backend decodes
	// its arguments from Body.
	Operation  string
	InputSlots []slot.ID

	// Compensate
	Original *Effect
	Action   CompensateAction
}

// EffectResult is what the executor writes back into an effect's Token
// slot. Per spec.md §9(a), results are raw bytes into the target slot
// unless the effect is a typed variant (Compute results may carry a
// pre-decoded Typed value instead).
type EffectResult struct {
	Token   slot.ID
	OK      bool
	Value   []byte
	Typed   any
	Err     error
	Skipped bool // true if the effect was never dispatched (policy rejection, cancellation)
}

// Mode selects how a Need's effects are executed relative to each
// other.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// Join is the policy governing when a parallel effect batch is
// considered complete, per spec.md §4.5.
type Join string

const (
	JoinAll         Join = "all"
	JoinAllRequired Join = "all_required"
	JoinAny         Join = "any"
	JoinFirstSuccess Join = "first_success"
)

// CancellationPolicy governs what happens to in-flight losers of an
// Any/FirstSuccess join, per spec.md §5.
type CancellationPolicy string

const (
	CompleteAll         CancellationPolicy = "complete_all"
	CancelOnly          CancellationPolicy = "cancel_only"
	CancelAndCompensate CancellationPolicy = "cancel_and_compensate"
)

// Need bundles a batch of effects with a resume policy, per spec.md §3.
// Continuation names the step to resume at; an empty Continuation means
// "the next step in sequence" (spec.md §9(c)).
type Need struct {
	Effects       []Effect
	Mode          Mode
	Join          Join
	Compensations []Effect
	Continuation  string
	Cancellation  CancellationPolicy
}
