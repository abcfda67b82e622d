package task

import "fmt"

// Registration pairs a descriptor with the factory that instantiates its
// implementation.
type Registration struct {
	Desc *Descriptor
	New  Factory
}

// Registry is the explicit collection of all task registrations of one
// application instance. It is populated once at process init and read-only
// afterwards; tests construct their own isolated registries.
type Registry struct {
	order  []*Registration
	byName map[string]*Registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Registration),
	}
}

// Register adds a task to the registry. Descriptor names must be unique
// and non-empty, and the factory must not be nil.
func (r *Registry) Register(desc *Descriptor, factory Factory) error {
	if desc == nil || desc.Name == "" {
		return fmt.Errorf("task descriptor must carry a name")
	}
	if factory == nil {
		return fmt.Errorf("task %q: factory must not be nil", desc.Name)
	}
	if _, ok := r.byName[desc.Name]; ok {
		return fmt.Errorf("task %q is already registered", desc.Name)
	}

	reg := &Registration{Desc: desc, New: factory}
	r.order = append(r.order, reg)
	r.byName[desc.Name] = reg
	return nil
}

// MustRegister is Register for init-time wiring, panicking on error.
func (r *Registry) MustRegister(desc *Descriptor, factory Factory) {
	if err := r.Register(desc, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the registration with the given task name.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	reg, ok := r.byName[name]
	return reg, ok
}

// Registrations returns all registrations in registration order.
func (r *Registry) Registrations() []*Registration {
	return r.order
}

// Descriptors returns all registered descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	descriptors := make([]*Descriptor, 0, len(r.order))
	for _, reg := range r.order {
		descriptors = append(descriptors, reg.Desc)
	}
	return descriptors
}
