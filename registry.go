package codex

import "sync"

// registry maps physical table names and logical keys to record types for
// one connection's lifetime. Registration is at-most-once per key:
// re-registering the identical type is a no-op, a different type under a
// taken key is a configuration error.
type registry struct {
	mu      sync.Mutex
	byTable map[string]*Type
	byKey   map[string]*Type
}

func newRegistry() *registry {
	return &registry{
		byTable: map[string]*Type{},
		byKey:   map[string]*Type{},
	}
}

func (r *registry) register(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byTable[t.table]; ok && existing != t {
		return &RegistrationError{Table: t.table, Reason: "table already registered with a different definition"}
	}
	if existing, ok := r.byKey[t.name]; ok && existing != t {
		return &RegistrationError{Table: t.name, Reason: "logical key already registered with a different definition"}
	}
	r.byTable[t.table] = t
	r.byKey[t.name] = t
	return nil
}

// lookup resolves a logical key first, then falls back to the physical
// table name.
func (r *registry) lookup(key string) (*Type, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byKey[key]; ok {
		return t, true
	}
	t, ok := r.byTable[key]
	return t, ok
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTable = map[string]*Type{}
	r.byKey = map[string]*Type{}
}
