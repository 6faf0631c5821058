package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	"github.com/dmehra2102/lumina-commerce/internal/currency"
)

func product(id string, price int64, stock int) catalog.Product {
	return catalog.Product{ID: id, Name: "Product " + id, PriceCents: price, Stock: stock}
}

func TestCart_AddMergesAndKeepsFirstPrice(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("p1", 1000, 5), 2))

	repriced := product("p1", 1500, 5)
	require.NoError(t, c.Add(repriced, 1))

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, int64(1000), lines[0].PriceCents)
	assert.Equal(t, int64(3000), c.TotalCents())
}

func TestCart_AddRejectsBadInput(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.Add(product("p1", 1000, 5), 0), ErrInvalidQuantity)
	assert.ErrorIs(t, c.Add(product("p1", 1000, 0), 1), ErrOutOfStock)
	assert.True(t, c.IsEmpty())
}

func TestCart_AddDoesNotCheckStockSufficiency(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("p1", 1000, 1), 5))
	require.NoError(t, c.Add(product("p1", 1000, 1), 5))
	assert.Equal(t, 10, c.ItemCount())

	stale := product("p2", 400, 0)
	assert.ErrorIs(t, c.Add(stale, 1), ErrOutOfStock)
	restocked := product("p2", 400, 3)
	require.NoError(t, c.Add(restocked, 1))
	assert.Equal(t, 2, c.Len())
}

func TestCart_SetQuantityAndRemove(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("a", 250, 10), 1))
	require.NoError(t, c.Add(product("b", 100, 10), 4))

	require.NoError(t, c.SetQuantity("a", 3))
	assert.Equal(t, 7, c.ItemCount())
	assert.Equal(t, int64(1150), c.TotalCents())

	require.NoError(t, c.SetQuantity("b", 0))
	assert.Equal(t, 1, c.Len())
	assert.ErrorIs(t, c.SetQuantity("b", 1), ErrNotInCart)
	assert.ErrorIs(t, c.SetQuantity("a", -1), ErrInvalidQuantity)

	c.Remove("a")
	c.Remove("missing")
	assert.True(t, c.IsEmpty())
}

func TestCart_ItemsAndDisplay(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("a", 1000, 5), 2))
	require.NoError(t, c.Add(product("b", 50, 5), 1))

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "$20.50", c.Display(currency.DefaultTable(), "USD"))

	c.Clear()
	assert.Equal(t, int64(0), c.TotalCents())
}
