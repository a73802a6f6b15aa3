package entity

import (
	"fmt"

	"github.com/google/uuid"
)

// PropertySet owns an entity's property wrappers in declaration order. It
// answers the three aggregate questions for the entity's own slice of state
// and walks adopted children held as property values.
type PropertySet struct {
	owner *Base
	order []string
	named map[string]*Property
}

func newPropertySet(owner *Base) *PropertySet {
	return &PropertySet{owner: owner, named: make(map[string]*Property)}
}

// Names returns the property names in declaration order.
func (ps *PropertySet) Names() []string {
	g := ps.owner.lockGraph()
	out := append([]string(nil), ps.order...)
	g.mu.Unlock()
	return out
}

// Len returns the number of declared properties.
func (ps *PropertySet) Len() int {
	g := ps.owner.lockGraph()
	n := len(ps.order)
	g.mu.Unlock()
	return n
}

// Get returns the wrapper for name, or an ErrUnknownProperty error.
func (ps *PropertySet) Get(name string) (*Property, error) {
	g := ps.owner.lockGraph()
	p := ps.named[name]
	g.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("property %q: %w", name, ErrUnknownProperty)
	}
	return p, nil
}

func (ps *PropertySet) defineLocked(name string, opts ...PropertyOption) *Property {
	if name == "" {
		panic("entity: Define with empty property name")
	}
	if _, dup := ps.named[name]; dup {
		panic(fmt.Sprintf("entity: property %q defined twice", name))
	}
	p := &Property{
		owner:    ps.owner,
		name:     name,
		messages: make(map[string][]Message),
		busy:     make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	ps.order = append(ps.order, name)
	ps.named[name] = p
	return p
}

func (ps *PropertySet) getLocked(name string) *Property { return ps.named[name] }

// selfValidLocked scans only this entity's own wrappers.
func (ps *PropertySet) selfValidLocked() bool {
	for _, name := range ps.order {
		if !ps.named[name].validLocked() {
			return false
		}
	}
	return true
}

func (ps *PropertySet) selfBusyLocked() bool {
	for _, name := range ps.order {
		if ps.named[name].busyLocked() {
			return true
		}
	}
	return false
}

func (ps *PropertySet) selfModifiedLocked() bool {
	for _, name := range ps.order {
		if ps.named[name].modified {
			return true
		}
	}
	return false
}

// childrenLocked returns adopted entities and collections held as property
// values, in declaration order.
func (ps *PropertySet) childrenLocked() []Parent {
	var out []Parent
	for _, name := range ps.order {
		if c := ps.named[name].childLocked(); c != nil {
			out = append(out, c)
		}
	}
	return out
}
