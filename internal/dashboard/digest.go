package dashboard

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dmehra2102/lumina-commerce/internal/currency"
)

type SummarySource interface {
	Summary() Summary
}

// Digest logs the end-of-day revenue report. It implements cron.Job.
type Digest struct {
	log        *slog.Logger
	source     SummarySource
	currencies *currency.Table
	code       string
}

func NewDigest(log *slog.Logger, source SummarySource, currencies *currency.Table, code string) *Digest {
	return &Digest{log: log, source: source, currencies: currencies, code: code}
}

func (d *Digest) Run() {
	r := d.source.Summary().Report(d.currencies, d.code)
	attrs := []any{
		"currency", r.Currency,
		"revenue", r.Revenue,
		"online", r.Online,
		"pos", r.POS,
		"orders", r.Orders,
		"pending_shipments", r.PendingShipments,
	}
	for _, day := range r.ByWeekday {
		attrs = append(attrs, slog.Group(day.Day, "revenue", day.Revenue, "orders", day.Orders))
	}
	d.log.Info("daily digest", attrs...)
}

// Schedule registers the digest on c using a standard five-field cron expression.
func (d *Digest) Schedule(c *cron.Cron, expr string) (cron.EntryID, error) {
	id, err := c.AddJob(expr, d)
	if err != nil {
		return 0, fmt.Errorf("schedule digest %q: %w", expr, err)
	}
	return id, nil
}
