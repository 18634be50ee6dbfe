package registry

import (
	"fmt"
	"slices"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Register binds an implementation name to its factory. Register implementations
// at startup; duplicates are rejected.
func (r *Registry) Register(implName string, f Factory) error {
	if implName == "" || f == nil {
		return fmt.Errorf("register implementation %q: %w", implName, berr.ErrBadRequest)
	}

	r.fmu.Lock()
	defer r.fmu.Unlock()

	if _, exists := r.factories[implName]; exists {
		return fmt.Errorf("register implementation %q: %w", implName, berr.ErrImplementationExists)
	}

	r.factories[implName] = f

	return nil
}

// Instantiate builds a new instance of the named implementation.
func (r *Registry) Instantiate(implName string) (cbus.Invocable, error) {
	r.fmu.RLock()
	f, ok := r.factories[implName]
	r.fmu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("implementation %q not deployed: %w", implName, berr.ErrNotFound)
	}

	inst := f()
	if inst == nil {
		return nil, fmt.Errorf("implementation %q factory returned nil: %w", implName, berr.ErrNotFound)
	}

	return inst, nil
}

// Implementations lists registered implementation names in order.
func (r *Registry) Implementations() []string {
	r.fmu.RLock()
	defer r.fmu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}

	slices.Sort(names)

	return names
}
