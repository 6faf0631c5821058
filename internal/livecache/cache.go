// Package livecache keeps an in-memory, read-only mirror of the four shared
// collections. Each collection view is replaced wholesale whenever the store
// delivers a new snapshot; readers never see a partially applied update.
package livecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	catalog "github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	sales "github.com/dmehra2102/lumina-commerce/internal/sales/domain"
	"github.com/dmehra2102/lumina-commerce/internal/store"
)

var ErrAlreadyStarted = errors.New("live cache already started")

// View is one decoded snapshot. Seq orders views of the same collection.
type View[T any] struct {
	Seq   uint64
	Items []T
}

type productView struct {
	View[catalog.Product]
	byID map[string]int
}

type settingsView struct {
	seq      uint64
	settings catalog.Settings
}

type Cache struct {
	log *slog.Logger
	st  store.Store

	products  atomic.Pointer[productView]
	sales     atomic.Pointer[View[sales.Sale]]
	customers atomic.Pointer[View[catalog.Customer]]
	settings  atomic.Pointer[settingsView]

	onProducts  listeners[View[catalog.Product]]
	onSales     listeners[View[sales.Sale]]
	onCustomers listeners[View[catalog.Customer]]
	onSettings  listeners[catalog.Settings]

	mu      sync.Mutex
	subs    []store.Subscription
	started bool
	closed  bool

	loaded    sync.Map
	readyOnce sync.Once
	ready     chan struct{}
}

func New(log *slog.Logger, st store.Store) *Cache {
	c := &Cache{log: log, st: st, ready: make(chan struct{})}
	c.products.Store(&productView{byID: map[string]int{}})
	c.sales.Store(&View[sales.Sale]{})
	c.customers.Store(&View[catalog.Customer]{})
	c.settings.Store(&settingsView{})
	return c
}

// Start subscribes to every collection. If any subscription fails, the ones
// already established are closed before the error is returned.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	handlers := map[store.Collection]func(store.Snapshot){
		store.Products:  c.applyProducts,
		store.Sales:     c.applySales,
		store.Customers: c.applyCustomers,
		store.Settings:  c.applySettings,
	}
	subs := make([]store.Subscription, 0, len(store.Collections))
	for _, coll := range store.Collections {
		sub, err := c.st.Subscribe(ctx, coll, handlers[coll])
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return fmt.Errorf("subscribe %s: %w", coll, err)
		}
		subs = append(subs, sub)
	}
	c.subs = subs
	c.started = true
	return nil
}

// WaitReady blocks until every collection has delivered its first snapshot.
func (c *Cache) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) Ready() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Close ends every subscription and drops all listeners. It is safe to call
// more than once.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.onProducts.clear()
	c.onSales.clear()
	c.onCustomers.clear()
	c.onSettings.clear()
	return errors.Join(errs...)
}

func (c *Cache) Products() []catalog.Product {
	return clone(c.products.Load().Items)
}

func (c *Cache) Product(id string) (catalog.Product, bool) {
	v := c.products.Load()
	i, ok := v.byID[id]
	if !ok {
		return catalog.Product{}, false
	}
	return v.Items[i], true
}

// Categories returns "All" followed by every distinct product category in
// catalog order.
func (c *Cache) Categories() []string {
	seen := map[string]struct{}{}
	var cats []string
	for _, p := range c.products.Load().Items {
		cat := p.CategoryOrDefault()
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		cats = append(cats, cat)
	}
	return append([]string{"All"}, cats...)
}

// Sales returns the ledger newest first.
func (c *Cache) Sales() []sales.Sale {
	return clone(c.sales.Load().Items)
}

func (c *Cache) SalesView() View[sales.Sale] {
	v := c.sales.Load()
	return View[sales.Sale]{Seq: v.Seq, Items: clone(v.Items)}
}

func (c *Cache) Customers() []catalog.Customer {
	return clone(c.customers.Load().Items)
}

func (c *Cache) Customer(id string) (catalog.Customer, bool) {
	for _, cu := range c.customers.Load().Items {
		if cu.ID == id {
			return cu, true
		}
	}
	return catalog.Customer{}, false
}

func (c *Cache) Settings() catalog.Settings {
	return c.settings.Load().settings
}

// OnProducts registers fn for every new products view. The returned function
// unregisters it.
func (c *Cache) OnProducts(fn func(View[catalog.Product])) func() { return c.onProducts.add(fn) }

func (c *Cache) OnSales(fn func(View[sales.Sale])) func() { return c.onSales.add(fn) }

func (c *Cache) OnCustomers(fn func(View[catalog.Customer])) func() { return c.onCustomers.add(fn) }

func (c *Cache) OnSettings(fn func(catalog.Settings)) func() { return c.onSettings.add(fn) }

func (c *Cache) applyProducts(snap store.Snapshot) {
	v := &productView{
		View: View[catalog.Product]{Seq: snap.Seq, Items: make([]catalog.Product, 0, len(snap.Docs))},
		byID: make(map[string]int, len(snap.Docs)),
	}
	for _, d := range snap.Docs {
		p, err := catalog.DecodeProduct(d.ID, d.Version, d.Data)
		if err != nil {
			c.log.Warn("skipping undecodable document", "collection", snap.Collection, "id", d.ID, "err", err)
			continue
		}
		v.byID[p.ID] = len(v.Items)
		v.Items = append(v.Items, p)
	}
	c.products.Store(v)
	c.markLoaded(snap.Collection)
	c.onProducts.notify(View[catalog.Product]{Seq: v.Seq, Items: clone(v.Items)})
}

func (c *Cache) applySales(snap store.Snapshot) {
	v := &View[sales.Sale]{Seq: snap.Seq, Items: make([]sales.Sale, 0, len(snap.Docs))}
	for _, d := range snap.Docs {
		s, err := sales.DecodeSale(d.ID, d.Version, d.CreatedAt, d.Data)
		if err != nil {
			c.log.Warn("skipping undecodable document", "collection", snap.Collection, "id", d.ID, "err", err)
			continue
		}
		v.Items = append(v.Items, s)
	}
	c.sales.Store(v)
	c.markLoaded(snap.Collection)
	c.onSales.notify(View[sales.Sale]{Seq: v.Seq, Items: clone(v.Items)})
}

func (c *Cache) applyCustomers(snap store.Snapshot) {
	v := &View[catalog.Customer]{Seq: snap.Seq, Items: make([]catalog.Customer, 0, len(snap.Docs))}
	for _, d := range snap.Docs {
		cu, err := catalog.DecodeCustomer(d.ID, d.Data)
		if err != nil {
			c.log.Warn("skipping undecodable document", "collection", snap.Collection, "id", d.ID, "err", err)
			continue
		}
		v.Items = append(v.Items, cu)
	}
	c.customers.Store(v)
	c.markLoaded(snap.Collection)
	c.onCustomers.notify(View[catalog.Customer]{Seq: v.Seq, Items: clone(v.Items)})
}

func (c *Cache) applySettings(snap store.Snapshot) {
	var s catalog.Settings
	if d, ok := snap.Find(store.SettingsDocID); ok {
		decoded, err := catalog.DecodeSettings(d.Data)
		if err != nil {
			c.log.Warn("skipping undecodable document", "collection", snap.Collection, "id", d.ID, "err", err)
			decoded = c.Settings()
		}
		s = decoded
	}
	c.settings.Store(&settingsView{seq: snap.Seq, settings: s})
	c.markLoaded(snap.Collection)
	c.onSettings.notify(s)
}

func (c *Cache) markLoaded(coll store.Collection) {
	c.loaded.Store(coll, true)
	for _, want := range store.Collections {
		if _, ok := c.loaded.Load(want); !ok {
			return
		}
	}
	c.readyOnce.Do(func() { close(c.ready) })
}

func clone[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
