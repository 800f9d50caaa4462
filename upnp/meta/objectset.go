// Package meta holds the UPnP metadata graph: devices, services, actions,
// arguments, state variables and icons, together with the binder that
// projects a host-side service description into that graph.
//
// The graph is stored in owning tables keyed by stable names (UDN,
// service id, variable name); children never hold strong back-pointers to
// their owners.
package meta

import (
	"fmt"
	"iter"
)

// Named is anything storable in a Set, keyed by its name.
type Named interface {
	Name() string
}

// Set is an insertion-ordered collection of named objects with unique
// names. Descriptor writers depend on the stable iteration order.
type Set[T Named] struct {
	byName map[string]T
	order  []string
}

// Insert adds obj, failing if an object with the same name is present.
func (s *Set[T]) Insert(obj T) error {
	if s.byName == nil {
		s.byName = make(map[string]T)
	}
	if _, ok := s.byName[obj.Name()]; ok {
		return fmt.Errorf("object %s already present in set", obj.Name())
	}
	s.byName[obj.Name()] = obj
	s.order = append(s.order, obj.Name())
	return nil
}

// Get looks up an object by name.
func (s *Set[T]) Get(name string) (T, bool) {
	obj, ok := s.byName[name]
	return obj, ok
}

// Len returns the number of objects in the set.
func (s *Set[T]) Len() int { return len(s.order) }

// All iterates the set in insertion order.
func (s *Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, name := range s.order {
			if !yield(s.byName[name]) {
				return
			}
		}
	}
}
