package entity

import (
	"context"
	"fmt"
	"sort"
)

// Rule is the base contract for business rules. A rule declares the
// properties that trigger it and a priority; lower priorities run first,
// ties break on name. Concrete behavior comes from the capability
// interfaces: a Checker validates, an Action mutates, and a rule carrying
// Asynchronous runs off the assigning goroutine.
type Rule interface {
	Name() string
	Triggers() []string
	Priority() int
}

// Checker is a rule that inspects the entity and reports validation
// messages. Returned messages replace whatever the same rule reported
// before on every property it touches; returning none clears it.
type Checker interface {
	Rule
	Check(ctx context.Context, e Item) ([]Message, error)
}

// Action is a rule that mutates the entity, typically by assigning
// dependent properties. Assignments made inside an action trigger the
// target properties' own rules as a cascade.
type Action interface {
	Rule
	Act(ctx context.Context, e Item) error
}

// Asynchronous marks a rule as long-running. The engine executes it on a
// background goroutine, keeps its trigger properties busy for the duration,
// and registers the run with the entity's task tracker.
type Asynchronous interface {
	Async() bool
}

// CheckFunc adapts a function to the Checker capability.
type CheckFunc func(ctx context.Context, e Item) ([]Message, error)

// ActionFunc adapts a function to the Action capability.
type ActionFunc func(ctx context.Context, e Item) error

// RuleOption configures a constructed rule.
type RuleOption func(*ruleMeta)

// WithPriority sets the rule priority. The default is 0.
func WithPriority(p int) RuleOption {
	return func(m *ruleMeta) { m.priority = p }
}

type ruleMeta struct {
	name     string
	triggers []string
	priority int
	async    bool
}

func (m ruleMeta) Name() string       { return m.name }
func (m ruleMeta) Triggers() []string { return append([]string(nil), m.triggers...) }
func (m ruleMeta) Priority() int      { return m.priority }
func (m ruleMeta) Async() bool        { return m.async }

type checkRule struct {
	ruleMeta
	fn CheckFunc
}

func (r checkRule) Check(ctx context.Context, e Item) ([]Message, error) { return r.fn(ctx, e) }

type actionRule struct {
	ruleMeta
	fn ActionFunc
}

func (r actionRule) Act(ctx context.Context, e Item) error { return r.fn(ctx, e) }

func newMeta(name string, triggers []string, async bool, opts []RuleOption) ruleMeta {
	m := ruleMeta{name: name, triggers: append([]string(nil), triggers...), async: async}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// NewCheck builds a synchronous validation rule from a function.
func NewCheck(name string, triggers []string, fn CheckFunc, opts ...RuleOption) Checker {
	return checkRule{ruleMeta: newMeta(name, triggers, false, opts), fn: fn}
}

// NewAsyncCheck builds a validation rule that runs on a background
// goroutine, such as a uniqueness probe against a remote service.
func NewAsyncCheck(name string, triggers []string, fn CheckFunc, opts ...RuleOption) Checker {
	return checkRule{ruleMeta: newMeta(name, triggers, true, opts), fn: fn}
}

// NewAction builds a synchronous mutating rule from a function.
func NewAction(name string, triggers []string, fn ActionFunc, opts ...RuleOption) Action {
	return actionRule{ruleMeta: newMeta(name, triggers, false, opts), fn: fn}
}

// NewAsyncAction builds a mutating rule that runs on a background goroutine.
func NewAsyncAction(name string, triggers []string, fn ActionFunc, opts ...RuleOption) Action {
	return actionRule{ruleMeta: newMeta(name, triggers, true, opts), fn: fn}
}

// boundRule caches the capability resolution done once at Register so the
// engine never type-switches on the hot path.
type boundRule struct {
	rule     Rule
	name     string
	triggers []string
	priority int
	async    bool
	check    Checker
	act      Action
}

// RuleSet holds an entity's registered rules indexed by trigger property.
type RuleSet struct {
	owner     *Base
	rules     []*boundRule
	byTrigger map[string][]*boundRule
}

func newRuleSet(owner *Base) *RuleSet {
	return &RuleSet{owner: owner, byTrigger: make(map[string][]*boundRule)}
}

// Register adds a rule. It panics on wiring mistakes: nil or unnamed rules,
// duplicate names, rules with neither the Checker nor the Action capability,
// and triggers naming undefined properties. Properties must be defined
// before the rules that trigger on them.
func (rs *RuleSet) Register(r Rule) {
	if r == nil {
		panic("entity: Register with nil rule")
	}
	b := &boundRule{
		rule:     r,
		name:     r.Name(),
		triggers: r.Triggers(),
		priority: r.Priority(),
	}
	if b.name == "" {
		panic("entity: Register with unnamed rule")
	}
	if len(b.triggers) == 0 {
		panic(fmt.Sprintf("entity: rule %q has no trigger properties", b.name))
	}
	if c, ok := r.(Checker); ok {
		b.check = c
	}
	if a, ok := r.(Action); ok {
		b.act = a
	}
	if b.check == nil && b.act == nil {
		panic(fmt.Sprintf("entity: rule %q implements neither Checker nor Action", b.name))
	}
	if a, ok := r.(Asynchronous); ok {
		b.async = a.Async()
	}

	g := rs.owner.lockGraph()
	defer g.mu.Unlock()
	for _, prev := range rs.rules {
		if prev.name == b.name {
			panic(fmt.Sprintf("entity: rule %q registered twice", b.name))
		}
	}
	for _, t := range b.triggers {
		if rs.owner.props.getLocked(t) == nil {
			panic(fmt.Sprintf("entity: rule %q triggers on undefined property %q", b.name, t))
		}
	}
	rs.rules = append(rs.rules, b)
	for _, t := range b.triggers {
		rs.byTrigger[t] = sortChain(append(rs.byTrigger[t], b))
	}
}

// Names returns registered rule names in registration order.
func (rs *RuleSet) Names() []string {
	g := rs.owner.lockGraph()
	out := make([]string, len(rs.rules))
	for i, b := range rs.rules {
		out[i] = b.name
	}
	g.mu.Unlock()
	return out
}

func (rs *RuleSet) matchLocked(trigger string) []*boundRule {
	return rs.byTrigger[trigger]
}

func (rs *RuleSet) allLocked() []*boundRule {
	return sortChain(append([]*boundRule(nil), rs.rules...))
}

// sortChain orders a chain by priority, then name. Sorting is stable so
// equal rules keep registration order, though the name tiebreak already
// makes the order total.
func sortChain(chain []*boundRule) []*boundRule {
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].priority != chain[j].priority {
			return chain[i].priority < chain[j].priority
		}
		return chain[i].name < chain[j].name
	})
	return chain
}
