package entity_test

import (
	"context"
	"strings"

	"entitycore/pkg/entity"
)

// The fixtures model a small ordering aggregate: an order header owning a
// shipping address child and two line item collections, one active and one
// archived, so cross-list moves stay inside the aggregate.

type order struct {
	entity.Base
}

func newOrder() *order {
	o := &order{}
	o.Init(o)
	o.Define("Customer")
	o.Define("Status")
	o.Define("Reference", entity.ReadOnly())
	o.Define("ShipTo")
	o.Define("Items")
	o.Define("Archived")
	o.Rules().Register(entity.NewCheck("customer-required", []string{"Customer"}, requireString("Customer", "customer is required")))

	lc := entity.NewLoadContext()
	ctx := context.Background()
	mustSet(lc, ctx, o, "ShipTo", newAddress())
	mustSet(lc, ctx, o, "Items", entity.NewCollection(entity.WithItemFactory(newLineItemFactory)))
	mustSet(lc, ctx, o, "Archived", entity.NewCollection(entity.WithItemFactory(newLineItemFactory)))
	return o
}

func (o *order) items() *entity.Collection { return mustCollection(o, "Items") }

func (o *order) archived() *entity.Collection { return mustCollection(o, "Archived") }

func (o *order) shipTo() *address {
	v, _ := o.Value("ShipTo")
	return v.(*address)
}

type address struct {
	entity.Base
}

func newAddress() *address {
	a := &address{}
	a.Init(a)
	a.Define("Street")
	a.Define("City")
	a.Define("Extra")
	a.Rules().Register(entity.NewCheck("city-required", []string{"City"}, requireString("City", "city is required")))
	return a
}

type lineItem struct {
	entity.Base
}

func newLineItem() *lineItem {
	li := &lineItem{}
	li.Init(li)
	li.Define("SKU")
	li.Define("Qty")
	li.Define("Price")
	li.Define("Subtotal")
	li.Rules().Register(entity.NewCheck("qty-positive", []string{"Qty"}, func(ctx context.Context, e entity.Item) ([]entity.Message, error) {
		q, err := entity.ValueOf[int](e, "Qty")
		if err != nil {
			return nil, err
		}
		if q <= 0 {
			return []entity.Message{{Text: "quantity must be positive"}}, nil
		}
		return nil, nil
	}))
	li.Rules().Register(entity.NewAction("subtotal", []string{"Qty", "Price"}, func(ctx context.Context, e entity.Item) error {
		q, err := entity.ValueOf[int](e, "Qty")
		if err != nil {
			return err
		}
		p, err := entity.ValueOf[int](e, "Price")
		if err != nil {
			return err
		}
		return e.Assign(ctx, "Subtotal", q*p)
	}, entity.WithPriority(10)))
	return li
}

func newLineItemFactory() entity.Item { return newLineItem() }

func requireString(prop, text string) entity.CheckFunc {
	return func(ctx context.Context, e entity.Item) ([]entity.Message, error) {
		s, err := entity.ValueOf[string](e, prop)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return []entity.Message{{Property: prop, Text: text}}, nil
		}
		return nil, nil
	}
}

func mustSet(lc *entity.LoadContext, ctx context.Context, e entity.Item, name string, v any) {
	if err := lc.Set(ctx, e, name, v); err != nil {
		panic(err)
	}
}

func mustCollection(e entity.Item, name string) *entity.Collection {
	c, err := entity.ValueOf[*entity.Collection](e, name)
	if err != nil {
		panic(err)
	}
	return c
}

// addItem appends a valid line item through the assignment path.
func addItem(ctx context.Context, o *order, sku string, qty, price int) (*lineItem, error) {
	li := newLineItem()
	if err := li.Assign(ctx, "SKU", sku); err != nil {
		return nil, err
	}
	if err := li.Assign(ctx, "Qty", qty); err != nil {
		return nil, err
	}
	if err := li.Assign(ctx, "Price", price); err != nil {
		return nil, err
	}
	if err := o.items().Add(ctx, li); err != nil {
		return nil, err
	}
	return li, nil
}
