package entity

import (
	"sort"

	"github.com/google/uuid"
)

// Property holds one declared property of an entity: its current value, the
// read-only flag, the self-modified flag, validation messages keyed by rule
// name, and the set of in-flight execution ids whose rules are still touching
// it. Wrappers are created eagerly by Define, owned exclusively by their
// entity, and live exactly as long as it does.
type Property struct {
	owner    *Base
	name     string
	readOnly bool

	value    any
	modified bool
	messages map[string][]Message
	busy     map[uuid.UUID]struct{}
}

// PropertyOption configures a property at Define time.
type PropertyOption func(*Property)

// ReadOnly marks the property as rejecting Assign. The load path still
// writes it, which is how computed or server-assigned values arrive.
func ReadOnly() PropertyOption {
	return func(p *Property) { p.readOnly = true }
}

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// IsReadOnly reports whether Assign rejects this property.
func (p *Property) IsReadOnly() bool { return p.readOnly }

// Value returns the current value.
func (p *Property) Value() any {
	g := p.owner.lockGraph()
	v := p.value
	g.mu.Unlock()
	return v
}

// IsModified reports whether this wrapper itself holds an unpersisted write.
func (p *Property) IsModified() bool {
	g := p.owner.lockGraph()
	m := p.modified
	g.mu.Unlock()
	return m
}

// IsBusy reports whether at least one in-flight rule execution marked this
// property. Markers are per execution id, so overlapping executions do not
// clobber each other's state.
func (p *Property) IsBusy() bool {
	g := p.owner.lockGraph()
	b := len(p.busy) > 0
	g.mu.Unlock()
	return b
}

// IsValid reports whether no error-severity message is attached.
func (p *Property) IsValid() bool {
	g := p.owner.lockGraph()
	v := p.validLocked()
	g.mu.Unlock()
	return v
}

// Messages returns all attached validation messages ordered by rule name,
// preserving each rule's own message order.
func (p *Property) Messages() []Message {
	g := p.owner.lockGraph()
	out := p.messagesLocked()
	g.mu.Unlock()
	return out
}

// RuleMessages returns the messages a single rule left on this property.
func (p *Property) RuleMessages(rule string) []Message {
	g := p.owner.lockGraph()
	out := append([]Message(nil), p.messages[rule]...)
	g.mu.Unlock()
	return out
}

func (p *Property) validLocked() bool {
	for _, ms := range p.messages {
		for _, m := range ms {
			if m.Severity.affectsValidity() {
				return false
			}
		}
	}
	return true
}

func (p *Property) messagesLocked() []Message {
	if len(p.messages) == 0 {
		return nil
	}
	rules := make([]string, 0, len(p.messages))
	for r := range p.messages {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	var out []Message
	for _, r := range rules {
		out = append(out, p.messages[r]...)
	}
	return out
}

func (p *Property) markBusyLocked(id uuid.UUID)  { p.busy[id] = struct{}{} }
func (p *Property) clearBusyLocked(id uuid.UUID) { delete(p.busy, id) }

func (p *Property) busyLocked() bool { return len(p.busy) > 0 }

// childLocked returns the property value as a Parent when it holds an
// adopted entity or collection, nil otherwise.
func (p *Property) childLocked() Parent {
	if c, ok := p.value.(Parent); ok {
		return c
	}
	return nil
}
