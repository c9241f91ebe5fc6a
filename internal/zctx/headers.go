package zctx

import "strings"

// HeaderField is a single header as it appeared on the wire: Name keeps
// its original casing, Value is the raw field value with surrounding
// OWS already stripped.
type HeaderField struct {
	Name  string
	Value string
}

// Headers is a case-insensitive, order-preserving header collection.
// Lookups are case-insensitive; iteration order matches arrival order.
// Per spec.md §4.6, multiple instances of the same header name combine
// by comma-joining their values in order, except Set-Cookie which is
// preserved as distinct entries.
type Headers struct {
	fields []HeaderField
	index  map[string][]int
}

// NewHeaders creates an empty Headers collection.
func NewHeaders() *Headers {
	return &Headers{index: make(map[string][]int)}
}

// Add appends a header field, preserving arrival order.
func (h *Headers) Add(name, value string) {
	key := strings.ToLower(name)
	h.index[key] = append(h.index[key], len(h.fields))
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Get returns the combined value for name (comma-joined across repeats,
// except Set-Cookie) and whether it was present at all.
func (h *Headers) Get(name string) (string, bool) {
	key := strings.ToLower(name)
	idxs, ok := h.index[key]
	if !ok || len(idxs) == 0 {
		return "", false
	}
	if key == "set-cookie" {
		return h.fields[idxs[0]].Value, true
	}
	if len(idxs) == 1 {
		return h.fields[idxs[0]].Value, true
	}
	parts := make([]string, len(idxs))
	for i, idx := range idxs {
		parts[i] = h.fields[idx].Value
	}
	return strings.Join(parts, ", "), true
}

// Values returns every raw value recorded for name, in arrival order.
func (h *Headers) Values(name string) []string {
	key := strings.ToLower(name)
	idxs := h.index[key]
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = h.fields[idx].Value
	}
	return out
}

// Has reports whether name was present at all.
func (h *Headers) Has(name string) bool {
	_, ok := h.index[strings.ToLower(name)]
	return ok
}

// All returns every field in arrival order.
func (h *Headers) All() []HeaderField {
	return h.fields
}
