// Package cart holds a pending, unsubmitted order. Prices are snapshotted
// when a product is first added, so later catalog edits never change what a
// line costs.
//
// The cart does not check whether stock covers the requested quantity; that
// is decided when the order is placed. Add only refuses products whose cached
// stock is zero, the way the storefront hides the add button for them. A
// stale cache can therefore refuse a product that was restocked a moment ago;
// refreshing the product clears it.
package cart

import (
	"errors"
	"fmt"
	"sync"

	catalog "github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	"github.com/dmehra2102/lumina-commerce/internal/currency"
	sales "github.com/dmehra2102/lumina-commerce/internal/sales/domain"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrOutOfStock      = errors.New("product is out of stock")
	ErrNotInCart       = errors.New("product is not in cart")
)

type Line struct {
	ProductID  string
	Name       string
	PriceCents int64
	Quantity   int
}

func (l Line) SubtotalCents() int64 { return l.PriceCents * int64(l.Quantity) }

// Cart is safe for concurrent use. Lines keep the order in which products
// were first added.
type Cart struct {
	mu    sync.Mutex
	lines []Line
}

func New() *Cart { return &Cart{} }

// Add puts qty units of p in the cart. An existing line for the same product
// keeps its original price and grows by qty. qty may exceed p.Stock.
func (c *Cart) Add(p catalog.Product, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if !p.InStock() {
		return fmt.Errorf("%w: %s", ErrOutOfStock, p.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(p.ID); i >= 0 {
		c.lines[i].Quantity += qty
		return nil
	}
	c.lines = append(c.lines, Line{ProductID: p.ID, Name: p.Name, PriceCents: p.PriceCents, Quantity: qty})
	return nil
}

func (c *Cart) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

// SetQuantity replaces a line's quantity. Zero removes the line.
func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.index(productID)
	if i < 0 {
		return ErrNotInCart
	}
	if qty == 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return nil
	}
	c.lines[i].Quantity = qty
	return nil
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool { return c.Len() == 0 }

// ItemCount is the total number of units across all lines.
func (c *Cart) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) TotalCents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, l := range c.lines {
		total += l.SubtotalCents()
	}
	return total
}

// Items converts the cart into sale line items.
func (c *Cart) Items() []sales.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]sales.LineItem, 0, len(c.lines))
	for _, l := range c.lines {
		items = append(items, sales.LineItem{ProductID: l.ProductID, Name: l.Name, PriceCents: l.PriceCents, Quantity: l.Quantity})
	}
	return items
}

// Display renders the cart total in the requested currency.
func (c *Cart) Display(t *currency.Table, code string) string {
	return t.Format(c.TotalCents(), code)
}

func (c *Cart) index(productID string) int {
	for i, l := range c.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}
