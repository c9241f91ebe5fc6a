package democompute

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/monstercameron/zerver/internal/pipeline"
)

// Handler implements effect.Handler for KindCompute, resolving
// e.Operation against the registered tool set and passing e.Body
// through as the tool call's JSON arguments. The step that builds the
// Need is responsible for serializing
// whatever slot values the operation needs into Body before emitting
// it, since the executor's Handler interface dispatches on the Effect
// struct alone and never resolves InputSlots itself.
type Handler struct {
	tools *Server
}

// NewHandler constructs a Handler over a fresh tool Server.
func NewHandler() *Handler {
	return &Handler{tools: NewServer()}
}

// Execute implements effect.Handler.
func (h *Handler) Execute(ctx context.Context, e pipeline.Effect) (pipeline.EffectResult, error) {
	if e.Kind != pipeline.KindCompute {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("democompute: unsupported effect kind %q", e.Kind)
	}

	fn, ok := h.tools.Lookup(e.Operation)
	if !ok {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("democompute: unknown operation %q", e.Operation)
	}

	var args map[string]any
	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, &args); err != nil {
			return pipeline.EffectResult{OK: false}, fmt.Errorf("democompute: invalid arguments: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = e.Operation
	req.Params.Arguments = args

	result, err := fn(ctx, req)
	if err != nil {
		return pipeline.EffectResult{OK: false}, err
	}

	text, isError := resultText(result)
	if isError {
		return pipeline.EffectResult{OK: false}, fmt.Errorf("democompute: tool %q reported an error: %s", e.Operation, text)
	}
	return pipeline.EffectResult{OK: true, Value: []byte(text)}, nil
}

// resultText extracts the concatenated text content from an
// mcp.CallToolResult, the shape mcp.NewToolResultText/NewToolResultError
// produce.
func resultText(result *mcp.CallToolResult) (text string, isError bool) {
	if result == nil {
		return "", true
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	return text, result.IsError
}
