package application

import (
	catalog "github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
)

// Catalog answers stock questions from the caller's cached view. It may be
// stale; the conditional write in reconciliation is the authority.
type Catalog interface {
	Product(id string) (catalog.Product, bool)
}

type Ledger interface {
	Sales() []domain.Sale
}
