package bank

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds adapters keyed by bank id.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Panics on a duplicate bank id or an adapter
// whose column map is unusable.
func (r *Registry) Register(a Adapter) {
	info := a.Info()
	key := strings.ToLower(info.ID)
	if _, ok := r.adapters[key]; ok {
		panic("duplicate bank adapter: " + key)
	}
	if err := info.Columns.Validate(); err != nil {
		panic(fmt.Sprintf("bank adapter %s: %v", key, err))
	}
	r.adapters[key] = a
}

// Get returns the adapter for a bank id, or nil.
func (r *Registry) Get(bankID string) Adapter {
	return r.adapters[strings.ToLower(bankID)]
}

// Lookup is Get with an ErrUnknownBank error.
func (r *Registry) Lookup(bankID string) (Adapter, error) {
	a := r.Get(bankID)
	if a == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBank, bankID)
	}
	return a, nil
}

// Catalog lists every registered adapter, sorted by id.
func (r *Registry) Catalog() []Info {
	infos := make([]Info, 0, len(r.adapters))
	for _, a := range r.adapters {
		infos = append(infos, a.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Supports reports whether the catalog lists bankID.
func Supports(catalog []Info, bankID string) bool {
	for _, info := range catalog {
		if strings.EqualFold(info.ID, bankID) {
			return true
		}
	}
	return false
}
