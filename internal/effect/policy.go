package effect

import (
	"strings"

	"github.com/monstercameron/zerver/internal/pipeline"
)

// SecurityPolicy gates every effect before dispatch, per spec.md §4.5.
type SecurityPolicy struct {
	AllowedHosts         []string
	ForbiddenSchemes     []string
	DefaultTimeoutMillis int
	ForbiddenSQLKeywords []string
	RequireParameterized bool
	MaxQueryLength       int
	MaxOutboundBytes     int
}

// DefaultSecurityPolicy matches the spec.md §6 configuration defaults.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		ForbiddenSchemes:     []string{"file", "ftp", "gopher"},
		DefaultTimeoutMillis: 30000,
		ForbiddenSQLKeywords: []string{"DROP", "TRUNCATE", "ALTER", "CREATE", "GRANT", "REVOKE"},
		RequireParameterized: true,
		MaxQueryLength:       10000,
		MaxOutboundBytes:     1 << 20,
	}
}

// validate runs the pre-dispatch security checks for eff against p. A
// non-nil return means the effect must never be dispatched — the
// executor converts it straight into a Forbidden error that aborts the
// whole batch, per
// spec.md's "policy violations produce Forbidden immediately."
func (p SecurityPolicy) validate(eff pipeline.Effect) error {
	switch eff.Kind {
	case pipeline.KindHttpCall:
		return p.validateHTTPCall(eff)
	case pipeline.KindDbQuery:
		return p.validateDBQuery(eff)
	default:
		return nil
	}
}

func (p SecurityPolicy) validateHTTPCall(eff pipeline.Effect) error {
	scheme, host, ok := splitURL(eff.URL)
	if !ok {
		return errForbidden("malformed URL")
	}
	for _, forbidden := range p.ForbiddenSchemes {
		if strings.EqualFold(scheme, forbidden) {
			return errForbidden("scheme " + scheme + " is forbidden")
		}
	}
	if !hostAllowed(host, p.AllowedHosts) {
		return errForbidden("host " + host + " is not in the allowlist")
	}
	if eff.TimeoutMillis > 0 && eff.TimeoutMillis > p.DefaultTimeoutMillis {
		return errForbidden("timeout_ms exceeds policy default_timeout_ms")
	}
	if len(eff.Body) > p.MaxOutboundBytes {
		return errForbidden("request body exceeds max_outbound_bytes")
	}
	return nil
}

func (p SecurityPolicy) validateDBQuery(eff pipeline.Effect) error {
	if len(eff.SQL) > p.MaxQueryLength {
		return errForbidden("sql exceeds max_query_length")
	}
	upper := strings.ToUpper(eff.SQL)
	for _, kw := range p.ForbiddenSQLKeywords {
		if containsWord(upper, kw) {
			return errForbidden("sql contains forbidden keyword " + kw)
		}
	}
	if p.RequireParameterized {
		if countPlaceholders(eff.SQL) != len(eff.Params) {
			return errForbidden("sql placeholder count does not match params")
		}
	}
	return nil
}

// splitURL extracts scheme and host from a URL without importing
// net/url's userinfo-tolerant parser — SSRF checks must see the literal
// host Go's HTTP client would connect to.
func splitURL(raw string) (scheme, host string, ok bool) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return "", "", false
	}
	scheme = raw[:idx]
	rest := raw[idx+3:]
	if strings.IndexByte(rest, '@') >= 0 {
		// userinfo in the authority is rejected outright (same rule the
		// request-line parser applies to absolute-form targets) rather
		// than matched against the allowlist using the part after '@' —
		// that would let "https://api.trusted.com@evil.com/" pass.
		return "", "", false
	}
	end := len(rest)
	for i, c := range rest {
		if c == '/' || c == '?' || c == '#' {
			end = i
			break
		}
	}
	authority := rest[:end]
	if colon := strings.LastIndexByte(authority, ':'); colon >= 0 {
		host = authority[:colon]
	} else {
		host = authority
	}
	if host == "" {
		return "", "", false
	}
	return scheme, host, true
}

func hostAllowed(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, pattern := range patterns {
		pattern = strings.ToLower(pattern)
		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) && host != suffix[1:] {
				return true
			}
			if host == pattern[2:] {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func countPlaceholders(sql string) int {
	count := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] == '$' && i+1 < len(sql) && sql[i+1] >= '1' && sql[i+1] <= '9' {
			count++
			for i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
				i++
			}
		}
	}
	return count
}

type forbiddenError string

func (e forbiddenError) Error() string { return string(e) }

func errForbidden(msg string) error { return forbiddenError(msg) }
