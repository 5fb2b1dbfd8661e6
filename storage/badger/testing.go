package badger

// NewMemoryStore creates an in-memory document store for testing.
// Caller must close the store when done.
func NewMemoryStore(opts ...StoreOption) (*Store, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	store.ownsBackend = true

	return store, nil
}
