package domain

import "strings"

// SearchScope is one of the selectable media categories of the search bar.
type SearchScope int

const (
	ScopeAll SearchScope = iota
	ScopeMovies
	ScopeMusic
	ScopeApps
	ScopeBooks
)

var allScopes = []SearchScope{ScopeAll, ScopeMovies, ScopeMusic, ScopeApps, ScopeBooks}

// Scopes returns every scope in display order.
func Scopes() []SearchScope {
	return append([]SearchScope(nil), allScopes...)
}

func (s SearchScope) Title() string {
	switch s {
	case ScopeAll:
		return "All"
	case ScopeMovies:
		return "Movies"
	case ScopeMusic:
		return "Music"
	case ScopeApps:
		return "Apps"
	case ScopeBooks:
		return "Books"
	default:
		return ""
	}
}

// MediaType is the value sent as the "media" query parameter.
func (s SearchScope) MediaType() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopeMovies:
		return "movie"
	case ScopeMusic:
		return "music"
	case ScopeApps:
		return "software"
	case ScopeBooks:
		return "ebook"
	default:
		return ""
	}
}

func (s SearchScope) String() string { return s.Title() }

func (s SearchScope) Valid() bool {
	return s >= ScopeAll && s <= ScopeBooks
}

// Concrete reports whether the scope maps to a single media type.
func (s SearchScope) Concrete() bool {
	return s.Valid() && s != ScopeAll
}

// Expand returns the scopes actually queried: All fans out to the four
// concrete scopes, every other scope queries itself.
func (s SearchScope) Expand() []SearchScope {
	if s == ScopeAll {
		return []SearchScope{ScopeMovies, ScopeMusic, ScopeApps, ScopeBooks}
	}
	if !s.Valid() {
		return nil
	}
	return []SearchScope{s}
}

// Category returns the result category a concrete scope feeds.
func (s SearchScope) Category() (Category, bool) {
	switch s {
	case ScopeMovies:
		return CategoryMovies, true
	case ScopeMusic:
		return CategoryMusic, true
	case ScopeApps:
		return CategoryApps, true
	case ScopeBooks:
		return CategoryBooks, true
	default:
		return 0, false
	}
}

// Next and Prev cycle through the scopes, wrapping around.
func (s SearchScope) Next() SearchScope {
	return allScopes[(int(s)+1)%len(allScopes)]
}

func (s SearchScope) Prev() SearchScope {
	return allScopes[(int(s)+len(allScopes)-1)%len(allScopes)]
}

// ScopeLayout is a rendering hint; the core never reads it.
type ScopeLayout struct {
	GroupItemCount     int     `json:"groupItemCount"`
	GroupWidthFraction float64 `json:"groupWidthFraction"`
	OrthogonalScroll   bool    `json:"orthogonalScroll"`
}

func (s SearchScope) Layout() ScopeLayout {
	if s == ScopeAll {
		return ScopeLayout{GroupItemCount: 1, GroupWidthFraction: 1.0 / 3, OrthogonalScroll: true}
	}
	return ScopeLayout{GroupItemCount: 3, GroupWidthFraction: 1}
}

// ParseScope accepts a scope title or media type, case-insensitively.
// An empty value means All.
func ParseScope(raw string) (SearchScope, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ScopeAll, true
	}
	for _, scope := range allScopes {
		if value == strings.ToLower(scope.Title()) || value == scope.MediaType() {
			return scope, true
		}
	}
	return 0, false
}

func (s SearchScope) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.Title())), nil
}

func (s *SearchScope) UnmarshalText(text []byte) error {
	scope, ok := ParseScope(string(text))
	if !ok {
		return ErrUnknownScope
	}
	*s = scope
	return nil
}

// ScopeInfo describes a scope for API listings.
type ScopeInfo struct {
	Name      string      `json:"name"`
	Title     string      `json:"title"`
	MediaType string      `json:"mediaType"`
	Expands   []string    `json:"expands,omitempty"`
	Layout    ScopeLayout `json:"layout"`
}

func (s SearchScope) Info() ScopeInfo {
	info := ScopeInfo{
		Name:      strings.ToLower(s.Title()),
		Title:     s.Title(),
		MediaType: s.MediaType(),
		Layout:    s.Layout(),
	}
	if s == ScopeAll {
		for _, scope := range s.Expand() {
			info.Expands = append(info.Expands, strings.ToLower(scope.Title()))
		}
	}
	return info
}
