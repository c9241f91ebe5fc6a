package pipeline

import "github.com/monstercameron/zerver/internal/zerr"

// Decision is the sum type a Step returns, per spec.md §3: Continue,
// Need, Done, or Fail. It is modeled as a small closed interface rather
// than a tagged struct because the four variants carry genuinely
// different payloads and Go's type switch makes exhaustive handling at
// the trampoline/interpreter easy to verify by inspection.
type Decision interface {
	decision()
}

// ContinueDecision advances to the next step without requesting any
// effects.
type ContinueDecision struct{}

func (ContinueDecision) decision() {}

// NeedDecision hands a batch of effects to the executor and suspends
// the step.
type NeedDecision struct {
	Need Need
}

func (NeedDecision) decision() {}

// DoneDecision terminates the pipeline successfully with Response.
type DoneDecision struct {
	Response Response
}

func (DoneDecision) decision() {}

// FailDecision terminates the pipeline's step sequence and routes Err
// through the error pipeline.
type FailDecision struct {
	Err *zerr.Error
}

func (FailDecision) decision() {}

// Continue constructs a ContinueDecision.
func Continue() Decision { return ContinueDecision{} }

// NeedEffects constructs a NeedDecision.
func NeedEffects(n Need) Decision { return NeedDecision{Need: n} }

// Done constructs a DoneDecision.
func Done(r Response) Decision { return DoneDecision{Response: r} }

// Fail constructs a FailDecision.
func Fail(err *zerr.Error) Decision { return FailDecision{Err: err} }
