package validation

// IsValidIdentifier reports whether s is usable as a graph or node ID:
// non-empty, starting with a letter, containing only letters, digits,
// hyphens and underscores.
//
// IDs appear in execution orders, audit records and log lines, so the
// character set is kept deliberately narrow.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, ch := range s {
		if i == 0 && !isLetter(ch) {
			return false
		}
		if !isIdentifierChar(ch) {
			return false
		}
	}
	return true
}

func isLetter(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentifierChar(ch rune) bool {
	return isLetter(ch) || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
}
