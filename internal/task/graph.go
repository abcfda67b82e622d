package task

import (
	"fmt"
	"sort"

	"github.com/vk/taskgridgo/internal/dag"
)

// BuildGraph derives the dependency graph over the given descriptors: an
// edge (producer -> consumer) exists for every event name produced by one
// descriptor and depended on by another. Two descriptors connected through
// several events still share a single edge. A dependency cycle between
// tasks is a programmer error and is reported eagerly here, at edge
// insertion time.
func BuildGraph(descriptors []*Descriptor) (*dag.Graph[*Descriptor], error) {
	g := dag.New[*Descriptor]()

	producers := make(map[string][]*Descriptor)
	consumers := make(map[string][]*Descriptor)
	for _, desc := range descriptors {
		g.AddNode(desc)
		for _, event := range desc.Produces {
			producers[event] = append(producers[event], desc)
		}
		for _, event := range desc.DependsOn {
			consumers[event] = append(consumers[event], desc)
		}
	}

	// Walk event names in sorted order so edge insertion is deterministic.
	events := make([]string, 0, len(producers))
	for event := range producers {
		events = append(events, event)
	}
	sort.Strings(events)

	for _, event := range events {
		for _, producer := range producers[event] {
			for _, consumer := range consumers[event] {
				if err := g.AddEdge(producer, consumer); err != nil {
					return nil, fmt.Errorf("event %q: %w", event, err)
				}
			}
		}
	}
	return g, nil
}

// Graph builds the dependency graph over every registered descriptor. It
// is rebuilt on demand from the current registry contents.
func (r *Registry) Graph() (*dag.Graph[*Descriptor], error) {
	return BuildGraph(r.Descriptors())
}
