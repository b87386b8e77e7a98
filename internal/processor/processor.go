// Package processor provides the processor registry and the standard
// page processors driven by the slot scheduler.
package processor

import (
	"fmt"
	"sort"

	"github.com/docpress/docpress/internal/docpress"
)

// Standard priorities for the built-in processors. Lower runs first.
const (
	PriorityPageMonitor    = 0
	PriorityRequestQuality = 1
	PriorityLinksFinder    = 10
	PriorityElementCleaner = 20
	PriorityContentFinder  = 30
	PriorityPDFExporter    = 40
)

// Registry maps processor names to constructors so a processor set can
// be assembled from configuration. Registration order is preserved and
// used as the tie-break for equal priorities.
type Registry struct {
	ctors map[string]func() docpress.Processor
	names []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]func() docpress.Processor)}
}

// Register binds a name to a constructor. Duplicate names error.
func (r *Registry) Register(name string, ctor func() docpress.Processor) error {
	if name == "" {
		return fmt.Errorf("processor name is required")
	}
	if ctor == nil {
		return fmt.Errorf("processor %s: constructor is required", name)
	}
	if _, ok := r.ctors[name]; ok {
		return fmt.Errorf("processor %s already registered", name)
	}
	r.ctors[name] = ctor
	r.names = append(r.names, name)
	return nil
}

// Factory returns the factory for one registered processor.
func (r *Registry) Factory(name string) (docpress.ProcessorFactory, error) {
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, fmt.Errorf("processor %s not registered", name)
	}
	return docpress.ProcessorFactory(ctor), nil
}

// Factories returns factories for the named processors, or for every
// registered processor in registration order when names is empty.
func (r *Registry) Factories(names ...string) ([]docpress.ProcessorFactory, error) {
	if len(names) == 0 {
		names = r.names
	}
	out := make([]docpress.ProcessorFactory, 0, len(names))
	for _, name := range names {
		factory, err := r.Factory(name)
		if err != nil {
			return nil, err
		}
		out = append(out, factory)
	}
	return out, nil
}

// Names lists registered processors in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Instantiate builds a fresh processor set from factories, ordered by
// priority with factory order breaking ties. The scheduler calls this
// once per slot assignment.
func Instantiate(factories []docpress.ProcessorFactory) []docpress.Processor {
	procs := make([]docpress.Processor, 0, len(factories))
	for _, factory := range factories {
		procs = append(procs, factory())
	}
	sort.SliceStable(procs, func(i, j int) bool {
		return procs[i].Priority() < procs[j].Priority()
	})
	return procs
}
