package democompute

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/monstercameron/zerver/internal/pipeline"
)

func TestHandlerUppercase(t *testing.T) {
	h := NewHandler()
	body, _ := json.Marshal(map[string]string{"text": "hello"})

	res, err := h.Execute(context.Background(), pipeline.Effect{
		Kind: pipeline.KindCompute, Operation: "uppercase", Body: body,
	})
	if err != nil || !res.OK {
		t.Fatalf("uppercase failed: ok=%v err=%v", res.OK, err)
	}
	if string(res.Value) != "HELLO" {
		t.Fatalf("expected HELLO, got %q", res.Value)
	}
}

func TestHandlerWordCount(t *testing.T) {
	h := NewHandler()
	body, _ := json.Marshal(map[string]string{"text": "the quick brown fox"})

	res, err := h.Execute(context.Background(), pipeline.Effect{
		Kind: pipeline.KindCompute, Operation: "word_count", Body: body,
	})
	if err != nil || !res.OK {
		t.Fatalf("word_count failed: ok=%v err=%v", res.OK, err)
	}
	if string(res.Value) != "4" {
		t.Fatalf("expected 4, got %q", res.Value)
	}
}

func TestHandlerUnknownOperationFails(t *testing.T) {
	h := NewHandler()
	res, err := h.Execute(context.Background(), pipeline.Effect{
		Kind: pipeline.KindCompute, Operation: "nonexistent",
	})
	if err == nil || res.OK {
		t.Fatalf("expected failure for unknown operation, got ok=%v err=%v", res.OK, err)
	}
}

func TestHandlerInvalidArgumentsFails(t *testing.T) {
	h := NewHandler()
	res, err := h.Execute(context.Background(), pipeline.Effect{
		Kind: pipeline.KindCompute, Operation: "uppercase", Body: []byte("not json"),
	})
	if err == nil || res.OK {
		t.Fatalf("expected failure for malformed arguments, got ok=%v err=%v", res.OK, err)
	}
}

func TestHandlerWrongKindRejected(t *testing.T) {
	h := NewHandler()
	_, err := h.Execute(context.Background(), pipeline.Effect{Kind: pipeline.KindDbGet})
	if err == nil {
		t.Fatalf("expected error for non-compute effect kind")
	}
}
