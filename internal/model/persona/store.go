package persona

// Store exposes persona retrieval for HTTP handlers and session start.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	copied := make([]Persona, len(items))
	for i, item := range items {
		copied[i] = item.Clone()
	}
	return &MemoryStore{items: copied}
}

// List returns the predefined persona list.
func (s *MemoryStore) List() []Persona {
	out := make([]Persona, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item.Clone(), true
		}
	}
	return Persona{}, false
}
