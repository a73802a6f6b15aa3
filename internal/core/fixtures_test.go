package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"entitycore/pkg/entity"
)

// The fixtures model a minimal invoice aggregate: a header owning one line
// collection, with a sync requirement on Customer and an optional gated
// async scan on Notes for exercising the busy gate.

type invoice struct {
	entity.Base
}

func newInvoice() *invoice {
	inv := &invoice{}
	inv.Init(inv)
	inv.Define("Customer")
	inv.Define("Notes")
	inv.Define("Lines")
	inv.Rules().Register(entity.NewCheck("customer-required", []string{"Customer"}, func(ctx context.Context, e entity.Item) ([]entity.Message, error) {
		s, err := entity.ValueOf[string](e, "Customer")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return []entity.Message{{Property: "Customer", Text: "customer is required"}}, nil
		}
		return nil, nil
	}))
	lc := entity.NewLoadContext()
	if err := lc.Set(context.Background(), inv, "Lines", entity.NewCollection(entity.WithItemFactory(newInvoiceLineFactory))); err != nil {
		panic(err)
	}
	return inv
}

// newGatedInvoice adds an async scan on Notes that blocks until release is
// closed, keeping the aggregate busy on demand.
func newGatedInvoice(release <-chan struct{}) *invoice {
	inv := newInvoice()
	inv.Rules().Register(entity.NewAsyncCheck("notes-scan", []string{"Notes"}, func(ctx context.Context, e entity.Item) ([]entity.Message, error) {
		<-release
		return nil, nil
	}))
	return inv
}

func (inv *invoice) lines() *entity.Collection {
	c, err := entity.ValueOf[*entity.Collection](inv, "Lines")
	if err != nil {
		panic(err)
	}
	return c
}

type invoiceLine struct {
	entity.Base
}

func newInvoiceLine() *invoiceLine {
	l := &invoiceLine{}
	l.Init(l)
	l.Define("SKU")
	l.Define("Qty")
	return l
}

func newInvoiceLineFactory() entity.Item { return newInvoiceLine() }

// validInvoice builds an invoice that passes its rules and carries one line.
func validInvoice(ctx context.Context, customer string) *invoice {
	inv := newInvoice()
	if err := inv.Assign(ctx, "Customer", customer); err != nil {
		panic(err)
	}
	it, err := inv.lines().AddNew(ctx)
	if err != nil {
		panic(err)
	}
	if err := it.Assign(ctx, "SKU", "A-1"); err != nil {
		panic(err)
	}
	if err := it.Assign(ctx, "Qty", 2); err != nil {
		panic(err)
	}
	return inv
}

// fixedClock returns a preset time and advances only when told to.
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

// metricsRecorderStub collects observations for assertions.
type metricsRecorderStub struct {
	mu      sync.Mutex
	entries []observed
}

type observed struct {
	operation string
	success   bool
}

func (m *metricsRecorderStub) Observe(_ context.Context, operation string, success bool, _ time.Duration) {
	m.mu.Lock()
	m.entries = append(m.entries, observed{operation: operation, success: success})
	m.mu.Unlock()
}

func (m *metricsRecorderStub) observations() []observed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]observed(nil), m.entries...)
}

// logRecorderStub collects log lines by level.
type logRecorderStub struct {
	mu    sync.Mutex
	lines []string
}

func (l *logRecorderStub) record(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, level+" "+msg)
	l.mu.Unlock()
}

func (l *logRecorderStub) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *logRecorderStub) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *logRecorderStub) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *logRecorderStub) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *logRecorderStub) has(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, have := range l.lines {
		if have == line {
			return true
		}
	}
	return false
}
