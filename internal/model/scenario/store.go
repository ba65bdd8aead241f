package scenario

// Store exposes scenario retrieval for HTTP handlers and session start.
type Store interface {
	List() []Scenario
	FindByID(id string) (Scenario, bool)
}

// MemoryStore implements Store over a fixed slice.
type MemoryStore struct {
	items []Scenario
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied scenarios.
func NewMemoryStore(items []Scenario) *MemoryStore {
	copied := make([]Scenario, len(items))
	for i, item := range items {
		copied[i] = item.Clone()
	}
	return &MemoryStore{items: copied}
}

// List returns the scenario catalog.
func (s *MemoryStore) List() []Scenario {
	out := make([]Scenario, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out
}

// FindByID looks up a scenario by identifier.
func (s *MemoryStore) FindByID(id string) (Scenario, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item.Clone(), true
		}
	}
	return Scenario{}, false
}
