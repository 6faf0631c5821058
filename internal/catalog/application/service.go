package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	"github.com/dmehra2102/lumina-commerce/internal/store"
)

var (
	ErrNotFound         = errors.New("product not found")
	ErrInvalidStock     = errors.New("stock must not be negative")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Service is the inventory editor: the second writer of product stock next to
// order reconciliation. Every stock change is a conditional write.
type Service struct {
	log   *slog.Logger
	st    store.Store
	retry store.RetryPolicy
}

func NewService(log *slog.Logger, st store.Store, retry store.RetryPolicy) *Service {
	return &Service{log: log, st: st, retry: retry}
}

func (s *Service) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	data, err := p.Encode()
	if err != nil {
		return domain.Product{}, err
	}
	doc, err := s.st.Insert(ctx, store.Products, p.ID, data)
	if err != nil {
		return domain.Product{}, mapErr("create product", err)
	}
	s.log.Info("product created", "product_id", doc.ID, "stock", p.Stock)
	return domain.DecodeProduct(doc.ID, doc.Version, doc.Data)
}

// UpdateDetails replaces name, price, category, image and location. Stock is
// left to SetStock and AdjustStock.
func (s *Service) UpdateDetails(ctx context.Context, id string, details domain.Product) (domain.Product, error) {
	return s.update(ctx, "update product", id, func(p *domain.Product) error {
		p.Name = details.Name
		p.PriceCents = details.PriceCents
		p.Category = details.Category
		p.ImageURL = details.ImageURL
		p.Location = details.Location
		return p.Validate()
	})
}

func (s *Service) SetStock(ctx context.Context, id string, stock int) (domain.Product, error) {
	if stock < 0 {
		return domain.Product{}, ErrInvalidStock
	}
	return s.update(ctx, "set stock", id, func(p *domain.Product) error {
		if p.Stock == stock {
			return store.ErrNoChange
		}
		p.Stock = stock
		return nil
	})
}

// AdjustStock adds delta to the current stock, clamping at zero.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (domain.Product, error) {
	return s.update(ctx, "adjust stock", id, func(p *domain.Product) error {
		next := max(p.Stock+delta, 0)
		if next == p.Stock {
			return store.ErrNoChange
		}
		p.Stock = next
		return nil
	})
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.st.Delete(ctx, store.Products, id); err != nil {
		return mapErr("delete product", err)
	}
	s.log.Info("product deleted", "product_id", id)
	return nil
}

// CreateCustomer adds a registry entry. Customers are create-only.
func (s *Service) CreateCustomer(ctx context.Context, name string, metadata map[string]string) (domain.Customer, error) {
	c, err := domain.NewCustomer(name, metadata)
	if err != nil {
		return domain.Customer{}, err
	}
	data, err := c.Encode()
	if err != nil {
		return domain.Customer{}, err
	}
	doc, err := s.st.Insert(ctx, store.Customers, "", data)
	if err != nil {
		return domain.Customer{}, mapErr("create customer", err)
	}
	c.ID = doc.ID
	s.log.Info("customer created", "customer_id", c.ID)
	return c, nil
}

// EnsureSettings writes the settings document if none exists yet. An
// existing document is never overwritten.
func (s *Service) EnsureSettings(ctx context.Context, settings domain.Settings) (bool, error) {
	data, err := settings.Encode()
	if err != nil {
		return false, err
	}
	_, err = s.st.Insert(ctx, store.Settings, store.SettingsDocID, data)
	if errors.Is(err, store.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, mapErr("seed settings", err)
	}
	return true, nil
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	data, err := settings.Encode()
	if err != nil {
		return err
	}
	_, _, err = store.UpdateWithRetry(ctx, s.st, store.Settings, store.SettingsDocID, s.retry,
		func(store.Document) ([]byte, error) { return data, nil })
	if errors.Is(err, store.ErrNotFound) {
		_, err = s.EnsureSettings(ctx, settings)
		return err
	}
	if err != nil {
		return mapErr("update settings", err)
	}
	return nil
}

func (s *Service) update(ctx context.Context, op, id string, change func(*domain.Product) error) (domain.Product, error) {
	doc, attempts, err := store.UpdateWithRetry(ctx, s.st, store.Products, id, s.retry,
		func(doc store.Document) ([]byte, error) {
			p, err := domain.DecodeProduct(doc.ID, doc.Version, doc.Data)
			if err != nil {
				return nil, err
			}
			if err := change(&p); err != nil {
				return nil, err
			}
			return p.Encode()
		})
	if err != nil {
		return domain.Product{}, mapErr(op, err)
	}
	if attempts > 1 {
		s.log.Debug("product write retried", "product_id", id, "op", op, "attempts", attempts)
	}
	return domain.DecodeProduct(doc.ID, doc.Version, doc.Data)
}

func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrClosed):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
