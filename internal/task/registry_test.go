package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTask struct{}

func (nopTask) Execute(context.Context, *Run) error { return nil }

func nopFactory() Task { return nopTask{} }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&Descriptor{Name: "a"}, nopFactory))

	t.Run("duplicate name", func(t *testing.T) {
		err := r.Register(&Descriptor{Name: "a"}, nopFactory)
		assert.ErrorContains(t, err, "already registered")
	})

	t.Run("empty name", func(t *testing.T) {
		err := r.Register(&Descriptor{}, nopFactory)
		assert.ErrorContains(t, err, "must carry a name")
	})

	t.Run("nil factory", func(t *testing.T) {
		err := r.Register(&Descriptor{Name: "b"}, nil)
		assert.ErrorContains(t, err, "factory must not be nil")
	})
}

func TestRegistryLookupAndOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Descriptor{Name: "b"}, nopFactory)
	r.MustRegister(&Descriptor{Name: "a"}, nopFactory)

	reg, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", reg.Desc.Name)

	_, ok = r.Lookup("dne")
	assert.False(t, ok)

	// Registration order is preserved, not sorted.
	names := make([]string, 0, 2)
	for _, desc := range r.Descriptors() {
		names = append(names, desc.Name)
	}
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestDescriptor(t *testing.T) {
	d := &Descriptor{Name: "stats", DependsOn: []string{"repos-updated"}}
	assert.False(t, d.Initial())
	assert.True(t, d.DependsOnEvent("repos-updated"))
	assert.False(t, d.DependsOnEvent("other"))
	assert.Equal(t, "stats", d.String())

	initial := &Descriptor{Name: "seed"}
	assert.True(t, initial.Initial())
}
