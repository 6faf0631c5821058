package application

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
	"github.com/dmehra2102/lumina-commerce/internal/store"
)

var (
	ErrValidation                = errors.New("invalid order")
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrStockReconciliationFailed = errors.New("stock reconciliation failed")
	ErrNotFound                  = errors.New("sale not found")
	ErrInvalidState              = errors.New("invalid sale state")
	ErrStoreUnavailable          = errors.New("store unavailable")
)

type Shortage struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError is returned before any write when the cached stock
// cannot cover one or more lines.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		name := s.Name
		if name == "" {
			name = s.ProductID
		}
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", name, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ReconciliationError reports a recorded sale whose stock decrements did not
// all land. The sale stays in the ledger.
type ReconciliationError struct {
	SaleID string
	Lines  []domain.UnreconciledLine
}

func (e *ReconciliationError) Error() string {
	ids := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		ids = append(ids, l.ProductID)
	}
	return fmt.Sprintf("stock reconciliation failed for sale %s: %s", e.SaleID, strings.Join(ids, ", "))
}

func (e *ReconciliationError) Is(target error) bool { return target == ErrStockReconciliationFailed }

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError maps infrastructure failures onto the service taxonomy.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrClosed):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
