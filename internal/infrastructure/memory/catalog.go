package memory

import (
	"context"
	"sync"

	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
)

// Catalog is a read-mostly product table used by the order use case.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]apporder.Product
}

var _ apporder.Catalog = (*Catalog)(nil)

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]apporder.Product)}
}

func (c *Catalog) Put(p apporder.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) FindProducts(_ context.Context, ids []string) (map[string]apporder.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]apporder.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Buyers is the set of known buyer ids.
type Buyers struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

var _ apporder.BuyerDirectory = (*Buyers)(nil)

func NewBuyers(ids ...string) *Buyers {
	b := &Buyers{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		b.ids[id] = struct{}{}
	}
	return b
}

func (b *Buyers) Add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids[id] = struct{}{}
}

func (b *Buyers) Exists(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ids[id]
	return ok, nil
}
