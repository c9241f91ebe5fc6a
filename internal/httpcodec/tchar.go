package httpcodec

// isTChar reports whether b is an RFC 9110 tchar, the character class
// legal in a token (method names and header field names).
func isTChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// isToken reports whether s is a non-empty sequence of tchars.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTChar(s[i]) {
			return false
		}
	}
	return true
}

func isOWS(b byte) bool {
	return b == ' ' || b == '\t'
}

func trimOWS(s string) string {
	start := 0
	for start < len(s) && isOWS(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isOWS(s[end-1]) {
		end--
	}
	return s[start:end]
}
