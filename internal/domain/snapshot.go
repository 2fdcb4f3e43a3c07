package domain

// Section is one category of results, items in arrival order.
type Section struct {
	Category Category    `json:"category"`
	Title    string      `json:"title"`
	Items    []StoreItem `json:"items"`
}

// ScopeStatus reports how one scope query of a generation ended.
type ScopeStatus struct {
	Scope     SearchScope `json:"scope"`
	OK        bool        `json:"ok"`
	Count     int         `json:"count"`
	Error     string      `json:"error,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`
}

// Snapshot is the full, immutable result state of one search generation.
// Producers never mutate a published Snapshot; consumers diff successive
// values themselves.
type Snapshot struct {
	Generation uint64        `json:"generation"`
	Term       string        `json:"term"`
	Scope      SearchScope   `json:"scope"`
	Sections   []Section     `json:"sections"`
	Scopes     []ScopeStatus `json:"scopes,omitempty"`
	Pending    int           `json:"pending"`
	Final      bool          `json:"final"`
}

// Empty reports whether the snapshot holds no sections.
func (s Snapshot) Empty() bool {
	return len(s.Sections) == 0
}

func (s Snapshot) ItemCount() int {
	total := 0
	for _, section := range s.Sections {
		total += len(section.Items)
	}
	return total
}

// Section returns a copy of the section for category c.
func (s Snapshot) Section(c Category) (Section, bool) {
	for _, section := range s.Sections {
		if section.Category == c {
			section.Items = append([]StoreItem(nil), section.Items...)
			return section, true
		}
	}
	return Section{}, false
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Sections = make([]Section, len(s.Sections))
	for i, section := range s.Sections {
		section.Items = append([]StoreItem(nil), section.Items...)
		out.Sections[i] = section
	}
	if s.Scopes != nil {
		out.Scopes = append([]ScopeStatus(nil), s.Scopes...)
	}
	return out
}
