package search

import "unicode/utf8"

// Abbreviate shortens value to at most limit bytes for log attributes. The
// cut never splits a UTF-8 sequence.
func Abbreviate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	suffix := "..."
	if limit <= len(suffix) {
		suffix = ""
	}
	cut := limit - len(suffix)
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + suffix
}
