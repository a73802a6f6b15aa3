package integration

import (
	"context"
	"sync"
	"time"

	"entitycore/pkg/entity"
	"entitycore/pkg/exprrule"
)

// The fixtures model an order aggregate whose rules come from declarative
// documents, so the runtime, the rule compiler, and the session layer are
// exercised together.

const orderRules = `
rules:
  - name: reference-required
    triggers: [Reference]
    when: 'Reference != ""'
    message: reference is required
  - name: status-known
    triggers: [Status]
    when: 'Status in ["draft", "submitted", "archived"]'
    message: unknown status
`

const orderLineRules = `
rules:
  - name: sku-required
    triggers: [SKU]
    when: 'SKU != ""'
    message: sku is required
  - name: qty-positive
    triggers: [Qty]
    when: "Qty > 0"
    message: quantity must be positive
`

var ruleCompiler = exprrule.NewCompiler()

func registerDocumentRules(e interface {
	entity.Item
	Rules() *entity.RuleSet
}, doc string) {
	d, err := exprrule.Parse([]byte(doc))
	if err != nil {
		panic(err)
	}
	checks, err := ruleCompiler.CompileDocument(d)
	if err != nil {
		panic(err)
	}
	for _, check := range checks {
		e.Rules().Register(check)
	}
}

type order struct {
	entity.Base
}

func newOrder() *order {
	o := &order{}
	o.Init(o)
	o.Define("Reference")
	o.Define("Status")
	o.Define("Lines")
	registerDocumentRules(o, orderRules)
	lc := entity.NewLoadContext()
	if err := lc.Set(context.Background(), o, "Lines", entity.NewCollection(entity.WithItemFactory(newOrderLineFactory))); err != nil {
		panic(err)
	}
	return o
}

func (o *order) lines() *entity.Collection {
	c, err := entity.ValueOf[*entity.Collection](o, "Lines")
	if err != nil {
		panic(err)
	}
	return c
}

type orderLine struct {
	entity.Base
}

func newOrderLine() *orderLine {
	l := &orderLine{}
	l.Init(l)
	l.Define("SKU")
	l.Define("Qty")
	registerDocumentRules(l, orderLineRules)
	return l
}

func newOrderLineFactory() entity.Item { return newOrderLine() }

// validOrder builds an order that passes its rules and carries one line.
func validOrder(ctx context.Context, reference string) *order {
	o := newOrder()
	if err := o.Assign(ctx, "Reference", reference); err != nil {
		panic(err)
	}
	if err := o.Assign(ctx, "Status", "draft"); err != nil {
		panic(err)
	}
	it, err := o.lines().AddNew(ctx)
	if err != nil {
		panic(err)
	}
	if err := it.Assign(ctx, "SKU", "A-1"); err != nil {
		panic(err)
	}
	if err := it.Assign(ctx, "Qty", 2); err != nil {
		panic(err)
	}
	return o
}

// fixedClock returns a preset time and advances only when told to, keeping
// archive revision keys deterministic.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(at time.Time) *fixedClock {
	return &fixedClock{now: at}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
