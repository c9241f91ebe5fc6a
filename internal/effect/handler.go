package effect

import (
	"context"

	"github.com/monstercameron/zerver/internal/pipeline"
)

// Handler is the caller-supplied effect backend, per spec.md §6. One
// Handler implementation is expected to dispatch every EffectKind the
// application's steps emit; internal/demodb and internal/democompute
// are reference implementations for Db* and Compute respectively.
type Handler interface {
	Execute(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error)

func (f HandlerFunc) Execute(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	return f(ctx, e)
}
