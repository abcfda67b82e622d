package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/internal/dag"
)

func TestBuildGraph(t *testing.T) {
	producer := &Descriptor{Name: "update-repos", Produces: []string{"repos-updated"}}
	consumer := &Descriptor{Name: "bug-stats", DependsOn: []string{"repos-updated"}}
	unrelated := &Descriptor{Name: "news", DependsOn: []string{"news-imported"}}

	g, err := BuildGraph([]*Descriptor{producer, consumer, unrelated})
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())

	deps, err := g.DependentsOf(producer)
	require.NoError(t, err)
	assert.Equal(t, []*Descriptor{consumer}, deps)

	deps, err = g.DependentsOf(unrelated)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestBuildGraphMultipleSharedEvents(t *testing.T) {
	producer := &Descriptor{
		Name:     "archive",
		Produces: []string{"sources-changed", "binaries-changed"},
	}
	consumer := &Descriptor{
		Name:      "panels",
		DependsOn: []string{"sources-changed", "binaries-changed"},
	}

	g, err := BuildGraph([]*Descriptor{producer, consumer})
	require.NoError(t, err)

	// Two shared events still produce a single edge.
	deps, err := g.DependentsOf(producer)
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}

func TestBuildGraphRejectsCycles(t *testing.T) {
	a := &Descriptor{Name: "a", Produces: []string{"x"}, DependsOn: []string{"y"}}
	b := &Descriptor{Name: "b", Produces: []string{"y"}, DependsOn: []string{"x"}}

	_, err := BuildGraph([]*Descriptor{a, b})
	var cycleErr *dag.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestRegistryGraph(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Descriptor{Name: "a", Produces: []string{"x"}}, nopFactory)
	r.MustRegister(&Descriptor{Name: "b", DependsOn: []string{"x"}}, nopFactory)

	g, err := r.Graph()
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
}
