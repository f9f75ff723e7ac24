package transform

import (
	"fmt"
	"sync"
)

// Factory creates a transform candidate for the given direction and codec.
// A factory returns an error when it has no transform for the codec; the
// enumeration then moves to the next registered factory.
type Factory func(kind Kind, codec string) (Service, error)

var (
	registryMu sync.Mutex
	factories  []namedFactory
)

type namedFactory struct {
	name    string
	factory Factory
}

// Register adds a platform adapter factory under a name. Adapters call this
// from their package init; registration order determines enumeration order.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories = append(factories, namedFactory{name: name, factory: f})
}

// Enumerate creates one candidate service per registered factory that can
// serve the codec, in registration order. The caller configures each
// candidate in turn and closes the ones it rejects.
func Enumerate(kind Kind, codec string) ([]Service, error) {
	registryMu.Lock()
	local := make([]namedFactory, len(factories))
	copy(local, factories)
	registryMu.Unlock()

	if len(local) == 0 {
		return nil, fmt.Errorf("transform: no adapters registered")
	}

	var candidates []Service
	for _, nf := range local {
		svc, err := nf.factory(kind, codec)
		if err != nil {
			continue
		}
		candidates = append(candidates, svc)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("transform: no %s available for codec %q", kind, codec)
	}
	return candidates, nil
}
