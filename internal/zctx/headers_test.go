package zctx

import "testing"

func TestHeadersCaseInsensitiveGet(t *testing.T) {
	h := NewHeaders()
	h.Add("Content-Type", "text/plain")

	v, ok := h.Get("content-type")
	if !ok || v != "text/plain" {
		t.Fatalf("expected case-insensitive get to find text/plain, got %q ok=%v", v, ok)
	}
}

func TestHeadersCombinesRepeatedValues(t *testing.T) {
	h := NewHeaders()
	h.Add("Accept", "text/html")
	h.Add("accept", "application/json")

	v, ok := h.Get("Accept")
	if !ok || v != "text/html, application/json" {
		t.Fatalf("expected comma-joined value, got %q", v)
	}
}

func TestHeadersSetCookieNotJoined(t *testing.T) {
	h := NewHeaders()
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")

	vals := h.Values("set-cookie")
	if len(vals) != 2 || vals[0] != "a=1" || vals[1] != "b=2" {
		t.Fatalf("expected two distinct Set-Cookie values, got %v", vals)
	}
}

func TestHeadersPreservesOriginalCaseOnAll(t *testing.T) {
	h := NewHeaders()
	h.Add("X-Request-Id", "abc")

	all := h.All()
	if len(all) != 1 || all[0].Name != "X-Request-Id" {
		t.Fatalf("expected original casing preserved, got %+v", all)
	}
}

func TestHeadersMissing(t *testing.T) {
	h := NewHeaders()
	if h.Has("X-Missing") {
		t.Fatalf("expected missing header to report false")
	}
	if _, ok := h.Get("X-Missing"); ok {
		t.Fatalf("expected Get on missing header to report false")
	}
}
