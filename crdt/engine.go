// Package crdt holds the replicated-document engines the document coordinator
// merges room updates with. Merging is delegated entirely to the engine's
// library: Apply and Merge are commutative, associative and idempotent, so
// any delivery order of the same set of updates, duplicates included,
// converges to the same content.
package crdt

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedUpdate is returned when update or state bytes cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed update")

type (
	// Doc is one replicated document instance.
	Doc interface {
		// Apply merges an incremental update.
		Apply(update []byte) error
		// Merge merges a full state produced by Encode on any replica.
		Merge(state []byte) error
		// Encode returns the full current state.
		Encode() ([]byte, error)
		// Content returns the visible value.
		Content() string
	}

	Engine interface {
		Name() string
		NewDoc() Doc
	}
)

var engines = map[string]Engine{
	YjsEngine{}.Name(): YjsEngine{},
}

// Lookup returns the engine registered under name.
func Lookup(name string) (Engine, error) {
	engine, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown document engine %q (available: %v)", name, Names())
	}
	return engine, nil
}

func Names() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
