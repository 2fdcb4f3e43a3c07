package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestScopeExpand(t *testing.T) {
	all := ScopeAll.Expand()
	if len(all) != 4 || all[0] != ScopeMovies || all[3] != ScopeBooks {
		t.Fatalf("unexpected expansion of All: %v", all)
	}
	for _, scope := range []SearchScope{ScopeMovies, ScopeMusic, ScopeApps, ScopeBooks} {
		expanded := scope.Expand()
		if len(expanded) != 1 || expanded[0] != scope {
			t.Fatalf("%v should expand to itself, got %v", scope, expanded)
		}
		if _, ok := scope.Category(); !ok {
			t.Fatalf("%v should map to a category", scope)
		}
	}
	if SearchScope(99).Expand() != nil {
		t.Fatalf("invalid scope should expand to nothing")
	}
}

func TestScopeMediaTypes(t *testing.T) {
	want := map[SearchScope]string{
		ScopeAll:    "all",
		ScopeMovies: "movie",
		ScopeMusic:  "music",
		ScopeApps:   "software",
		ScopeBooks:  "ebook",
	}
	for scope, media := range want {
		if scope.MediaType() != media {
			t.Fatalf("%v: expected media %q, got %q", scope, media, scope.MediaType())
		}
	}
}

func TestParseScope(t *testing.T) {
	cases := []struct {
		raw  string
		want SearchScope
		ok   bool
	}{
		{"", ScopeAll, true},
		{"all", ScopeAll, true},
		{"Movies", ScopeMovies, true},
		{"movie", ScopeMovies, true},
		{" MUSIC ", ScopeMusic, true},
		{"software", ScopeApps, true},
		{"ebook", ScopeBooks, true},
		{"podcasts", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseScope(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseScope(%q) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestScopeCycling(t *testing.T) {
	if ScopeBooks.Next() != ScopeAll || ScopeAll.Prev() != ScopeBooks || ScopeMovies.Next() != ScopeMusic {
		t.Fatalf("unexpected scope cycling")
	}
}

func TestScopeLayout(t *testing.T) {
	all := ScopeAll.Layout()
	if all.GroupItemCount != 1 || !all.OrthogonalScroll {
		t.Fatalf("unexpected All layout: %#v", all)
	}
	music := ScopeMusic.Layout()
	if music.GroupItemCount != 3 || music.OrthogonalScroll || music.GroupWidthFraction != 1 {
		t.Fatalf("unexpected concrete layout: %#v", music)
	}
}

func TestScopeTextRoundTrip(t *testing.T) {
	raw, err := json.Marshal(map[string]SearchScope{"scope": ScopeApps})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"scope":"apps"}` {
		t.Fatalf("unexpected encoding: %s", raw)
	}

	var decoded struct {
		Scope SearchScope `json:"scope"`
	}
	if err := json.Unmarshal([]byte(`{"scope":"ebook"}`), &decoded); err != nil || decoded.Scope != ScopeBooks {
		t.Fatalf("expected books, got %v (%v)", decoded.Scope, err)
	}
	var scope SearchScope
	if err := scope.UnmarshalText([]byte("tv")); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
}

func TestQueryParams(t *testing.T) {
	params := Query{Term: "batman", Scope: ScopeMovies, Lang: "en_us", Limit: 20}.Params()
	if params["term"] != "batman" || params["media"] != "movie" || params["lang"] != "en_us" || params["limit"] != "20" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestScopeInfo(t *testing.T) {
	info := ScopeAll.Info()
	if info.Name != "all" || len(info.Expands) != 4 {
		t.Fatalf("unexpected info: %#v", info)
	}
	if len(ScopeMusic.Info().Expands) != 0 {
		t.Fatalf("concrete scope should not list expansions")
	}
}
