package domain

const (
	AggregateSale = "sale"

	EventSaleRecorded              = "SaleRecorded"
	EventSaleShipped               = "SaleShipped"
	EventStockReconciliationFailed = "StockReconciliationFailed"
)

type SaleRecorded struct {
	SaleID     string     `json:"saleId"`
	Channel    Channel    `json:"channel"`
	TotalCents int64      `json:"totalCents"`
	Items      []LineItem `json:"items"`
}

type SaleShipped struct {
	SaleID string `json:"saleId"`
}

// UnreconciledLine is one product whose stock was not brought in line with
// the sale.
type UnreconciledLine struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Applied   int    `json:"applied"`
	Reason    string `json:"reason"`
}

type StockReconciliationFailed struct {
	SaleID string             `json:"saleId"`
	Lines  []UnreconciledLine `json:"lines"`
}
