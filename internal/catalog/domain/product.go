package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultCategory   = "General"
	lowStockThreshold = 5
)

var ErrInvalidProduct = errors.New("invalid product")

type Product struct {
	ID         string `json:"-"`
	Version    int64  `json:"-"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Stock      int    `json:"stock"`
	Category   string `json:"category"`
	ImageURL   string `json:"imageUrl,omitempty"`
	Location   string `json:"location,omitempty"`
}

func (p Product) InStock() bool { return p.Stock > 0 }

// LowStock reports the "only a few left" state shown on the storefront.
func (p Product) LowStock() bool { return p.Stock > 0 && p.Stock < lowStockThreshold }

func (p Product) CategoryOrDefault() string {
	if strings.TrimSpace(p.Category) == "" {
		return DefaultCategory
	}
	return p.Category
}

func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case p.PriceCents < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	case p.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}
	return nil
}

func (p Product) Encode() ([]byte, error) {
	p.Category = p.CategoryOrDefault()
	return json.Marshal(p)
}

func DecodeProduct(id string, version int64, data []byte) (Product, error) {
	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return Product{}, fmt.Errorf("decode product %s: %w", id, err)
	}
	p.ID = id
	p.Version = version
	p.Category = p.CategoryOrDefault()
	return p, nil
}
