package demodb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/monstercameron/zerver/internal/pipeline"
)

// Handler implements effect.Handler over a demodb.DB, backing
// KindDbGet/KindDbPut/KindDbDel/KindDbQuery the way the teacher's
// internal/db methods back claude-ops's session/health-check queries —
// reduced here to a generic kv table plus a raw DbQuery escape hatch
// for the todos table cmd/zerver's demo routes use.
type Handler struct {
	DB *DB
}

// NewHandler constructs a Handler over db.
func NewHandler(db *DB) *Handler {
	return &Handler{DB: db}
}

// Execute dispatches one Effect to its matching SQLite operation, per
// spec.md §4.5's effect-kind dispatch table.
func (h *Handler) Execute(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	switch e.Kind {
	case pipeline.KindDbGet:
		return h.dbGet(ctx, e)
	case pipeline.KindDbPut:
		return h.dbPut(ctx, e)
	case pipeline.KindDbDel:
		return h.dbDel(ctx, e)
	case pipeline.KindDbQuery:
		return h.dbQuery(ctx, e)
	case pipeline.KindCompensate:
		return h.compensate(ctx, e)
	default:
		return pipeline.EffectResult{OK: false}, fmt.Errorf("demodb: unsupported effect kind %q", e.Kind)
	}
}

func (h *Handler) dbGet(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	var value []byte
	err := h.DB.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, e.Key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("demodb: key %q not found", e.Key)
	}
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}
	return pipeline.EffectResult{OK: true, Value: value}, nil
}

// dbPut upserts e.Key/e.Value into kv. When e.IdempotencyKey is set, a
// retried put with the same key replays the value it stored the first
// time instead of writing again, per spec.md §8's idempotence property.
func (h *Handler) dbPut(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	if e.IdempotencyKey != "" {
		var prior []byte
		err := h.DB.conn.QueryRowContext(ctx,
			`SELECT value FROM idempotency_keys WHERE idempotency_key = ?`, e.IdempotencyKey,
		).Scan(&prior)
		if err == nil {
			return pipeline.EffectResult{OK: true, Value: prior}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return pipeline.EffectResult{OK: false}, err
		}
	}

	tx, err := h.DB.conn.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		e.Key, e.Value,
	)
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}

	if e.IdempotencyKey != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO idempotency_keys (idempotency_key, kv_key, value) VALUES (?, ?, ?)`,
			e.IdempotencyKey, e.Key, e.Value,
		)
		if err != nil {
			return pipeline.EffectResult{OK: false}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return pipeline.EffectResult{OK: false}, err
	}
	return pipeline.EffectResult{OK: true, Value: e.Value}, nil
}

func (h *Handler) dbDel(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	_, err := h.DB.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, e.Key)
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}
	return pipeline.EffectResult{OK: true}, nil
}

// dbQuery runs e.SQL (already policy-checked against the forbidden
// keyword/parameterization rules by internal/effect's SecurityPolicy
// before this is ever called) and marshals the result set to a JSON
// array of column-name -> value objects.
func (h *Handler) dbQuery(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	rows, err := h.DB.conn.QueryContext(ctx, e.SQL, e.Params...)
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return pipeline.EffectResult{OK: false}, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return pipeline.EffectResult{OK: false}, err
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}
	return pipeline.EffectResult{OK: true, Value: encoded}, nil
}

// compensate implements the ActionDbDelete/ActionDbRestore rollback
// actions a Need's Compensations list may name, per spec.md §4.5.
func (h *Handler) compensate(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	switch e.Action {
	case pipeline.ActionDbDelete:
		return h.dbDel(ctx, e)
	case pipeline.ActionDbRestore:
		return h.dbPut(ctx, e)
	default:
		return pipeline.EffectResult{OK: true}, nil
	}
}
