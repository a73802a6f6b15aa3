package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// maxCascadeDepth bounds rule cascades: an assignment made inside a rule
// carries a depth one higher than the assignment that triggered the rule,
// and the chain refuses to run past the bound instead of looping forever.
const maxCascadeDepth = 64

type depthKey struct{}

func cascadeDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func withCascadeDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}

// runChain executes the rules triggered by one property. Synchronous rules
// run inline on the calling goroutine until the first asynchronous rule;
// that rule and everything after it become one tracked background task so
// chain order stays strictly sequential. The returned error covers engine
// faults from the inline part only; rule findings become messages, and
// background faults surface through Wait.
func (b *Base) runChain(ctx context.Context, trigger string) error {
	depth := cascadeDepth(ctx)
	if depth >= maxCascadeDepth {
		return fmt.Errorf("property %q: %w", trigger, ErrCascadeDepth)
	}
	g := b.lockGraph()
	chain := append([]*boundRule(nil), b.rules.matchLocked(trigger)...)
	g.mu.Unlock()
	if len(chain) == 0 {
		return nil
	}
	return b.runRules(withCascadeDepth(ctx, depth+1), trigger, chain)
}

// Revalidate re-runs every registered rule of this entity and of everything
// below it, in priority order per entity. Loads bypass rules, so this is
// how freshly hydrated state regains its validation messages.
func (b *Base) Revalidate(ctx context.Context) error {
	b.mustInit()
	depth := cascadeDepth(ctx)
	if depth >= maxCascadeDepth {
		return fmt.Errorf("revalidate: %w", ErrCascadeDepth)
	}
	rctx := withCascadeDepth(ctx, depth+1)

	g := b.lockGraph()
	chain := b.rules.allLocked()
	children := b.props.childrenLocked()
	g.mu.Unlock()

	var errs []error
	if len(chain) > 0 {
		if err := b.runRules(rctx, "revalidate", chain); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range children {
		if err := revalidateNode(rctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func revalidateNode(ctx context.Context, n Parent) error {
	switch v := n.(type) {
	case Item:
		return v.Revalidate(ctx)
	case *Collection:
		var errs []error
		for _, it := range v.All() {
			if err := it.Revalidate(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return nil
}

func (b *Base) runRules(ctx context.Context, trigger string, chain []*boundRule) error {
	var errs []error
	for i, r := range chain {
		if r.async {
			b.spawnTail(ctx, trigger, chain[i:])
			break
		}
		if err := b.runRule(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// spawnTail starts the asynchronous remainder of a chain. The task ref and
// the first rule's busy markers are registered before the goroutine exists,
// so the entity reports busy the moment the triggering Assign returns. The
// tail keeps running to completion even if the assigning context is
// cancelled.
func (b *Base) spawnTail(ctx context.Context, trigger string, rest []*boundRule) {
	firstID := uuid.New()
	g := b.lockGraph()
	task := b.tracker.beginLocked("rules(" + trigger + ")")
	b.markTriggersLocked(rest[0], firstID)
	b.stateChangedLocked()
	g.mu.Unlock()

	go b.runTail(context.WithoutCancel(ctx), task, firstID, rest)
}

func (b *Base) runTail(ctx context.Context, task *asyncTask, firstID uuid.UUID, rest []*boundRule) {
	var errs []error
	for i, r := range rest {
		var execID uuid.UUID
		if r.async {
			if i == 0 {
				execID = firstID
			} else {
				execID = uuid.New()
				g := b.lockGraph()
				b.markTriggersLocked(r, execID)
				b.stateChangedLocked()
				g.mu.Unlock()
			}
		}
		err := b.runRule(ctx, r)
		if r.async {
			g := b.lockGraph()
			b.clearTriggersLocked(r, execID)
			b.stateChangedLocked()
			g.mu.Unlock()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	b.tracker.finish(task, errors.Join(errs...))
}

func (b *Base) markTriggersLocked(r *boundRule, id uuid.UUID) {
	for _, t := range r.triggers {
		if p := b.props.getLocked(t); p != nil {
			p.markBusyLocked(id)
		}
	}
}

func (b *Base) clearTriggersLocked(r *boundRule, id uuid.UUID) {
	for _, t := range r.triggers {
		if p := b.props.getLocked(t); p != nil {
			p.clearBusyLocked(id)
		}
	}
}

// runRule executes one rule's capabilities. A body error or panic is not an
// engine fault: it turns into an error-severity message on the rule's first
// trigger property, blocking IsValid like any other finding. Engine faults,
// a message naming an undefined property, are returned.
func (b *Base) runRule(ctx context.Context, r *boundRule) error {
	if r.check != nil {
		msgs, err := safeCheck(ctx, r.check, b.self)
		if err != nil {
			msgs = failureMessages(err)
		}
		if engineErr := b.applyMessages(r, msgs); engineErr != nil {
			return engineErr
		}
	}
	if r.act != nil {
		if err := safeAct(ctx, r.act, b.self); err != nil {
			return b.applyMessages(r, failureMessages(err))
		}
		if r.check == nil {
			return b.applyMessages(r, nil)
		}
	}
	return nil
}

func safeCheck(ctx context.Context, c Checker, e Item) (msgs []Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			msgs, err = nil, fmt.Errorf("rule panic: %v", rec)
		}
	}()
	return c.Check(ctx, e)
}

func safeAct(ctx context.Context, a Action, e Item) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rule panic: %v", rec)
		}
	}()
	return a.Act(ctx, e)
}

func failureMessages(err error) []Message {
	return []Message{{Severity: SeverityError, Text: "rule failed: " + err.Error()}}
}

// applyMessages replaces the rule's previous findings with msgs. The Rule
// field is forced to the reporting rule, an empty Property defaults to the
// rule's first trigger, and an empty Severity to error. Messages naming an
// undefined property are dropped and reported as engine faults.
func (b *Base) applyMessages(r *boundRule, msgs []Message) error {
	g := b.lockGraph()
	defer g.mu.Unlock()

	for _, name := range b.props.order {
		delete(b.props.named[name].messages, r.name)
	}
	var errs []error
	for _, m := range msgs {
		m.Rule = r.name
		if m.Property == "" {
			m.Property = r.triggers[0]
		}
		if m.Severity == "" {
			m.Severity = SeverityError
		}
		p := b.props.getLocked(m.Property)
		if p == nil {
			errs = append(errs, fmt.Errorf("rule %q reported on property %q: %w", r.name, m.Property, ErrUnknownProperty))
			continue
		}
		p.messages[r.name] = append(p.messages[r.name], m)
	}
	b.stateChangedLocked()
	return errors.Join(errs...)
}
