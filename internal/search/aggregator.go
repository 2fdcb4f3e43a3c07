package search

import (
	"sort"

	"storesearch/searchclient/internal/domain"
)

// Classify maps an API kind onto a result category. Matching is exact and
// case-sensitive; any other kind is dropped by the aggregator.
func Classify(kind string) (domain.Category, bool) {
	switch kind {
	case "feature-movie":
		return domain.CategoryMovies, true
	case "song", "album":
		return domain.CategoryMusic, true
	case "software":
		return domain.CategoryApps, true
	case "ebook":
		return domain.CategoryBooks, true
	default:
		return 0, false
	}
}

// Cycle identifies the search generation an Aggregator is accumulating.
type Cycle struct {
	Generation uint64
	Term       string
	Scope      domain.SearchScope
	Queried    []domain.SearchScope
}

// Aggregator accumulates the results of one generation into sections.
// It is not safe for concurrent use; the Orchestrator owns it from a
// single goroutine.
type Aggregator struct {
	cycle    Cycle
	buckets  map[domain.Category][]domain.StoreItem
	statuses map[domain.SearchScope]domain.ScopeStatus
	pending  int
	current  domain.Snapshot
}

func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.Reset(Cycle{Scope: domain.ScopeAll})
	return a
}

// Reset discards everything accumulated so far and starts cycle.
func (a *Aggregator) Reset(cycle Cycle) domain.Snapshot {
	cycle.Queried = append([]domain.SearchScope(nil), cycle.Queried...)
	a.cycle = cycle
	a.buckets = make(map[domain.Category][]domain.StoreItem, 4)
	a.statuses = make(map[domain.SearchScope]domain.ScopeStatus, len(cycle.Queried))
	a.pending = len(cycle.Queried)
	return a.rebuild()
}

// Merge classifies items and appends them to their categories in arrival
// order, then returns the rebuilt snapshot.
func (a *Aggregator) Merge(items []domain.StoreItem) domain.Snapshot {
	for _, item := range items {
		category, ok := Classify(item.Kind)
		if !ok {
			continue
		}
		a.buckets[category] = append(a.buckets[category], item)
	}
	return a.rebuild()
}

// RecordStatus marks one queried scope as finished.
func (a *Aggregator) RecordStatus(status domain.ScopeStatus) domain.Snapshot {
	if _, done := a.statuses[status.Scope]; !done && a.pending > 0 {
		a.pending--
	}
	a.statuses[status.Scope] = status
	return a.rebuild()
}

// Snapshot returns the most recently built snapshot.
func (a *Aggregator) Snapshot() domain.Snapshot {
	return a.current
}

func (a *Aggregator) Pending() int {
	return a.pending
}

func (a *Aggregator) rebuild() domain.Snapshot {
	sections := make([]domain.Section, 0, len(a.buckets))
	for _, category := range domain.Categories() {
		items := a.buckets[category]
		if len(items) == 0 {
			continue
		}
		sections = append(sections, domain.Section{
			Category: category,
			Title:    category.Title(),
			Items:    append([]domain.StoreItem(nil), items...),
		})
	}

	var statuses []domain.ScopeStatus
	if len(a.statuses) > 0 {
		statuses = make([]domain.ScopeStatus, 0, len(a.statuses))
		for _, status := range a.statuses {
			statuses = append(statuses, status)
		}
		sort.Slice(statuses, func(i, j int) bool {
			return statuses[i].Scope < statuses[j].Scope
		})
	}

	a.current = domain.Snapshot{
		Generation: a.cycle.Generation,
		Term:       a.cycle.Term,
		Scope:      a.cycle.Scope,
		Sections:   sections,
		Scopes:     statuses,
		Pending:    a.pending,
		Final:      a.pending == 0,
	}
	return a.current
}
