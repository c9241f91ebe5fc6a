package democompute

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/mark3labs/mcp-go/mcp"
)

// toolHandlerFunc matches mark3labs/mcp-go's server.ToolHandlerFunc
// signature, the same shape the teacher's handleListPRs/handleCreatePR
// methods implement.
type toolHandlerFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// uppercaseArgs and wordCountArgs mirror the teacher's repoArgs/prStatusArgs:
// a plain struct decoded out of the tool call's arguments via
// req.BindArguments.
type uppercaseArgs struct {
	Text string `json:"text"`
}

type wordCountArgs struct {
	Text string `json:"text"`
}

func uppercaseTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"uppercase",
		"Uppercases the given text.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "Text to uppercase"}
			},
			"required": ["text"]
		}`),
	)
}

func wordCountTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"word_count",
		"Counts words in the given text.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "Text to count words in"}
			},
			"required": ["text"]
		}`),
	)
}

func handleUppercase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args uppercaseArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	return mcp.NewToolResultText(strings.ToUpper(args.Text)), nil
}

func handleWordCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args wordCountArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	count := len(strings.FieldsFunc(args.Text, func(r rune) bool { return unicode.IsSpace(r) }))
	return mcp.NewToolResultText(fmt.Sprintf("%d", count)), nil
}
