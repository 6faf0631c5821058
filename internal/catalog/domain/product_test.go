package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_EncodeDecodeDefaultsCategory(t *testing.T) {
	data, err := Product{Name: "Lamp", PriceCents: 1999, Stock: 3}.Encode()
	require.NoError(t, err)

	p, err := DecodeProduct("p1", 4, data)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, int64(4), p.Version)
	assert.Equal(t, DefaultCategory, p.Category)
	assert.True(t, p.LowStock())
	assert.True(t, p.InStock())
}

func TestProduct_Validate(t *testing.T) {
	assert.NoError(t, Product{Name: "Mug", PriceCents: 0, Stock: 0}.Validate())
	assert.ErrorIs(t, Product{Name: " "}.Validate(), ErrInvalidProduct)
	assert.ErrorIs(t, Product{Name: "Mug", PriceCents: -1}.Validate(), ErrInvalidProduct)
	assert.ErrorIs(t, Product{Name: "Mug", Stock: -1}.Validate(), ErrInvalidProduct)
}

func TestProduct_StockFlags(t *testing.T) {
	assert.False(t, Product{Stock: 0}.InStock())
	assert.False(t, Product{Stock: 0}.LowStock())
	assert.False(t, Product{Stock: 5}.LowStock())
	assert.True(t, Product{Stock: 4}.LowStock())
}

func TestSettings_Defaults(t *testing.T) {
	var s Settings
	assert.Equal(t, "My Store", s.DisplayName())
	s.StoreName = "Lumina Store"
	assert.Equal(t, "Lumina Store", s.DisplayName())
}

func TestCustomer_New(t *testing.T) {
	_, err := NewCustomer("  ", nil)
	assert.ErrorIs(t, err, ErrInvalidCustomer)

	c, err := NewCustomer(" ada ", map[string]string{"tier": "gold"})
	require.NoError(t, err)
	assert.Equal(t, "ada", c.Name)
	assert.Equal(t, "A", c.Initial())
}
