// Package demodispatch composes the demo effect backends (demodb,
// democompute, demohttp) into the single effect.Handler a zerver.Server
// requires, dispatching on Effect.Kind the way the teacher's
// web.Server routes an incoming request across its session manager, db,
// and git provider collaborators by request shape rather than one
// god-handler.
package demodispatch

import (
	"context"
	"fmt"

	"github.com/monstercameron/zerver/internal/democompute"
	"github.com/monstercameron/zerver/internal/demodb"
	"github.com/monstercameron/zerver/internal/demohttp"
	"github.com/monstercameron/zerver/internal/pipeline"
)

// Handler fans KindDbGet/Put/Del/Query and KindCompensate out to a
// demodb.Handler, KindCompute to a democompute.Handler, and
// KindHttpCall to a demohttp.Handler.
type Handler struct {
	DB      *demodb.Handler
	Compute *democompute.Handler
	HTTP    *demohttp.Handler
}

// New builds a Handler over the given collaborators. Any of them may be
// nil; a Kind routed to a nil collaborator fails clearly rather than
// panicking.
func New(db *demodb.Handler, compute *democompute.Handler, httpH *demohttp.Handler) *Handler {
	return &Handler{DB: db, Compute: compute, HTTP: httpH}
}

// Execute implements effect.Handler.
func (h *Handler) Execute(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	switch e.Kind {
	case pipeline.KindDbGet, pipeline.KindDbPut, pipeline.KindDbDel, pipeline.KindDbQuery:
		if h.DB == nil {
			return pipeline.EffectResult{OK: false}, fmt.Errorf("demodispatch: no db backend registered for %q", e.Kind)
		}
		return h.DB.Execute(ctx, e)
	case pipeline.KindCompensate:
		if h.DB == nil {
			return pipeline.EffectResult{OK: false}, fmt.Errorf("demodispatch: no db backend registered for compensation")
		}
		return h.DB.Execute(ctx, e)
	case pipeline.KindCompute:
		if h.Compute == nil {
			return pipeline.EffectResult{OK: false}, fmt.Errorf("demodispatch: no compute backend registered")
		}
		return h.Compute.Execute(ctx, e)
	case pipeline.KindHttpCall:
		if h.HTTP == nil {
			return pipeline.EffectResult{OK: false}, fmt.Errorf("demodispatch: no http backend registered")
		}
		return h.HTTP.Execute(ctx, e)
	default:
		return pipeline.EffectResult{OK: false}, fmt.Errorf("demodispatch: unsupported effect kind %q", e.Kind)
	}
}
