package colmena

import "sync"

// SnapshotStore persists released aggregated models. Each Put replaces
// the previous snapshot for the model type wholesale; readers never see
// a partially updated aggregate.
type SnapshotStore interface {
	// Put stores an aggregated model, replacing any prior snapshot for
	// its model type.
	Put(model *AggregatedModel) error

	// Get returns the current snapshot for a model type, or ErrNotFound
	// if no aggregate has been released.
	Get(typ ModelType) (*AggregatedModel, error)

	// List returns the current snapshot of every model type that has
	// released an aggregate.
	List() ([]*AggregatedModel, error)

	// Close releases any resources held by the store.
	Close() error
}

// MemorySnapshotStore is the default in-memory SnapshotStore.
type MemorySnapshotStore struct {
	mu     sync.RWMutex
	models map[ModelType]*AggregatedModel
	closed bool
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{models: make(map[ModelType]*AggregatedModel)}
}

func (s *MemorySnapshotStore) Put(model *AggregatedModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.models[model.ModelType] = model
	return nil
}

func (s *MemorySnapshotStore) Get(typ ModelType) (*AggregatedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	model, ok := s.models[typ]
	if !ok {
		return nil, ErrNotFound
	}
	return model, nil
}

func (s *MemorySnapshotStore) List() ([]*AggregatedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*AggregatedModel, 0, len(s.models))
	for _, model := range s.models {
		out = append(out, model)
	}
	return out, nil
}

func (s *MemorySnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
