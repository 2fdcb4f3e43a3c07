package domain

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrUnknownScope    = errors.New("unknown search scope")
	ErrUnknownCategory = errors.New("unknown result category")
)

// StoreItem is a single catalog search result. Identity is ID.
type StoreItem struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Kind       string `json:"kind"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// Key is a string form of the item identity, used for map keys and
// renderer-side diffing.
func (i StoreItem) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

// Category groups items for display. The numeric order is the display order.
type Category int

const (
	CategoryMovies Category = iota
	CategoryMusic
	CategoryApps
	CategoryBooks
)

var categoryOrder = []Category{CategoryMovies, CategoryMusic, CategoryApps, CategoryBooks}

// Categories returns the fixed display order.
func Categories() []Category {
	return append([]Category(nil), categoryOrder...)
}

func (c Category) Title() string {
	switch c {
	case CategoryMovies:
		return "Movies"
	case CategoryMusic:
		return "Music"
	case CategoryApps:
		return "Apps"
	case CategoryBooks:
		return "Books"
	default:
		return ""
	}
}

func (c Category) String() string { return c.Title() }

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.Title()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	for _, category := range categoryOrder {
		if strings.EqualFold(string(text), category.Title()) {
			*c = category
			return nil
		}
	}
	return ErrUnknownCategory
}

// Query is one request against the catalog: one per in-flight call.
type Query struct {
	Term  string
	Scope SearchScope
	Lang  string
	Limit int
}

// Params returns the wire parameters of the catalog search endpoint.
func (q Query) Params() map[string]string {
	return map[string]string{
		"term":  q.Term,
		"media": q.Scope.MediaType(),
		"lang":  q.Lang,
		"limit": strconv.Itoa(q.Limit),
	}
}
