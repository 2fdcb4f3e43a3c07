package search

import (
	"testing"
	"unicode/utf8"
)

func TestAbbreviate(t *testing.T) {
	cases := []struct {
		value string
		limit int
		want  string
	}{
		{"batman", 10, "batman"},
		{"batman begins", 9, "batman..."},
		{"batman", 3, "bat"},
		{"batman", 0, "batman"},
		{"Beyoncé Live", 10, "Beyonc..."},
	}
	for _, tc := range cases {
		got := Abbreviate(tc.value, tc.limit)
		if got != tc.want {
			t.Fatalf("Abbreviate(%q, %d) = %q, want %q", tc.value, tc.limit, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("Abbreviate(%q, %d) split a rune: %q", tc.value, tc.limit, got)
		}
	}
}
