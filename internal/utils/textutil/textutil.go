package textutil

// Truncate cuts s to at most n runes. It never splits a multi-byte character.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Preview is Truncate with "..." marking a cut.
func Preview(s string, n int) string {
	cut := Truncate(s, n)
	if cut == s {
		return s
	}
	return cut + "..."
}
