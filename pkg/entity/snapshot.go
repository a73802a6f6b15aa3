package entity

import (
	"context"
	"fmt"
)

// Snapshot is the persistence shape of one entity: plain property values,
// child entity snapshots, and child collection snapshots, keyed by property
// name. Snapshots marshal to JSON; numeric values round-trip through JSON
// as float64, so hydration code reads numbers through that type.
type Snapshot struct {
	Values   map[string]any           `json:"values,omitempty"`
	Children map[string]*Snapshot     `json:"children,omitempty"`
	Lists    map[string]*ListSnapshot `json:"lists,omitempty"`
}

// ListSnapshot is the persistence shape of a collection: its active
// elements in order. Pending deletions are persisted as absence.
type ListSnapshot struct {
	Items []*Snapshot `json:"items"`
}

// Export captures the aggregate's current values as a snapshot. Meta-state
// is not part of it: flags and messages are derived again on load.
func Export(root Item) *Snapshot {
	root.base().mustInit()
	g := root.lockGraph()
	snap := exportLocked(root)
	g.mu.Unlock()
	return snap
}

func exportLocked(e Item) *Snapshot {
	b := e.base()
	s := &Snapshot{}
	for _, name := range b.props.order {
		p := b.props.named[name]
		switch v := p.value.(type) {
		case Item:
			if s.Children == nil {
				s.Children = make(map[string]*Snapshot)
			}
			s.Children[name] = exportLocked(v)
		case *Collection:
			ls := &ListSnapshot{}
			for _, it := range v.items {
				ls.Items = append(ls.Items, exportLocked(it))
			}
			if s.Lists == nil {
				s.Lists = make(map[string]*ListSnapshot)
			}
			s.Lists[name] = ls
		default:
			if s.Values == nil {
				s.Values = make(map[string]any)
			}
			s.Values[name] = p.value
		}
	}
	return s
}

// Hydrate fills a freshly constructed aggregate from a snapshot inside a
// bulk-load bracket and marks the result persisted. Child entities must
// already exist as property values; collection elements are built with each
// collection's item factory. Rules do not run; call Revalidate afterwards
// when validation state is wanted.
func (lc *LoadContext) Hydrate(ctx context.Context, root Item, snap *Snapshot) error {
	root.base().mustInit()
	bctx, end := lc.BeginBulkLoad(ctx, root)
	err := lc.hydrateNode(bctx, root, snap)
	end()
	if err != nil {
		return err
	}
	lc.MarkPersisted(root)
	return nil
}

func (lc *LoadContext) hydrateNode(ctx context.Context, e Item, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	for name, v := range snap.Values {
		if err := lc.Set(ctx, e, name, v); err != nil {
			return err
		}
	}
	for name, childSnap := range snap.Children {
		child, err := ValueOf[Item](e, name)
		if err != nil {
			return err
		}
		if child == nil {
			return fmt.Errorf("child %q has no constructed entity: %w", name, ErrValueType)
		}
		if err := lc.hydrateNode(ctx, child, childSnap); err != nil {
			return err
		}
	}
	for name, listSnap := range snap.Lists {
		col, err := ValueOf[*Collection](e, name)
		if err != nil {
			return err
		}
		if col == nil {
			return fmt.Errorf("list %q has no constructed collection: %w", name, ErrValueType)
		}
		if listSnap == nil {
			continue
		}
		for i, itemSnap := range listSnap.Items {
			if col.factory == nil {
				return fmt.Errorf("list %q: %w", name, ErrNoFactory)
			}
			it := col.factory()
			if err := lc.hydrateNode(ctx, it, itemSnap); err != nil {
				return fmt.Errorf("list %q item %d: %w", name, i, err)
			}
			if err := col.Add(ctx, it); err != nil {
				return fmt.Errorf("list %q item %d: %w", name, i, err)
			}
		}
	}
	return nil
}

// AggregateMessages flattens every validation message in the aggregate,
// prefixing property names with their path from the root, for example
// "Items[2].Qty". Order follows property declaration per entity and rule
// name within a property.
func AggregateMessages(root Item) []Message {
	root.base().mustInit()
	g := root.lockGraph()
	out := collectMessagesLocked(root, "")
	g.mu.Unlock()
	return out
}

func collectMessagesLocked(e Item, prefix string) []Message {
	b := e.base()
	var out []Message
	for _, name := range b.props.order {
		p := b.props.named[name]
		for _, m := range p.messagesLocked() {
			m.Property = prefix + m.Property
			out = append(out, m)
		}
		switch v := p.value.(type) {
		case Item:
			out = append(out, collectMessagesLocked(v, prefix+name+".")...)
		case *Collection:
			for i, it := range v.items {
				out = append(out, collectMessagesLocked(it, fmt.Sprintf("%s%s[%d].", prefix, name, i))...)
			}
		}
	}
	return out
}
