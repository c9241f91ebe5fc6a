// Package demohttp is the example HttpCall effect backend: a thin
// net/http client wrapper, grounded on internal/gitprovider/github.go's
// http.Client usage (the retrieval pack carries no third-party HTTP
// client library, so this one component stays on the standard library
// by necessity rather than by default).
package demohttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/monstercameron/zerver/internal/pipeline"
)

// Handler implements effect.Handler for KindHttpCall. Every request it
// sends has already passed internal/effect's SecurityPolicy checks
// (allowed hosts, forbidden schemes) before dispatch; this handler does
// not repeat that validation.
type Handler struct {
	Client *http.Client
}

// NewHandler builds a Handler with the same fixed-timeout client shape
// the teacher's NewGitHubProvider constructs.
func NewHandler() *Handler {
	return &Handler{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Execute implements effect.Handler.
func (h *Handler) Execute(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	if e.Kind != pipeline.KindHttpCall {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("demohttp: unsupported effect kind %q", e.Kind)
	}

	method := e.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(e.Body) > 0 {
		bodyReader = bytes.NewReader(e.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.URL, bodyReader)
	if err != nil {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("demohttp: build request: %w", err)
	}
	for name, value := range e.Headers {
		req.Header.Set(name, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("demohttp: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("demohttp: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return pipeline.EffectResult{OK: false, Value: data}, fmt.Errorf("demohttp: upstream returned %d", resp.StatusCode)
	}
	return pipeline.EffectResult{OK: true, Value: data}, nil
}
