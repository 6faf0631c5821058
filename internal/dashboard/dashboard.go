// Package dashboard projects the sales ledger into revenue totals. Every
// summary is recomputed from the full snapshot it is given.
package dashboard

import (
	"encoding/json"
	"time"

	"github.com/dmehra2102/lumina-commerce/internal/currency"
	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
)

type WeekdayTotal struct {
	Day          string `json:"day"`
	RevenueCents int64  `json:"revenueCents"`
	Orders       int    `json:"orders"`
}

type Summary struct {
	RevenueCents       int64          `json:"revenueCents"`
	OnlineRevenueCents int64          `json:"onlineRevenueCents"`
	POSRevenueCents    int64          `json:"posRevenueCents"`
	Orders             int            `json:"orders"`
	OnlineOrders       int            `json:"onlineOrders"`
	POSOrders          int            `json:"posOrders"`
	PendingShipments   int            `json:"pendingShipments"`
	ByWeekday          []WeekdayTotal `json:"byWeekday"`
}

// Summarize groups sales by the weekday of their creation time in loc and
// partitions revenue by channel. Weekdays with no sales are omitted; the rest
// run Sunday to Saturday.
func Summarize(sales []domain.Sale, loc *time.Location) Summary {
	if loc == nil {
		loc = time.UTC
	}
	var (
		s    Summary
		days [7]WeekdayTotal
	)
	for _, sale := range sales {
		s.RevenueCents += sale.TotalCents
		s.Orders++
		switch sale.Channel {
		case domain.ChannelOnline:
			s.OnlineRevenueCents += sale.TotalCents
			s.OnlineOrders++
		case domain.ChannelPOS:
			s.POSRevenueCents += sale.TotalCents
			s.POSOrders++
		}
		if sale.AwaitingShipment() {
			s.PendingShipments++
		}

		wd := sale.CreatedAt.In(loc).Weekday()
		days[wd].RevenueCents += sale.TotalCents
		days[wd].Orders++
	}

	s.ByWeekday = []WeekdayTotal{}
	for wd, d := range days {
		if d.Orders == 0 {
			continue
		}
		d.Day = time.Weekday(wd).String()[:3]
		s.ByWeekday = append(s.ByWeekday, d)
	}
	return s
}

type ReportDay struct {
	Day     string `json:"day"`
	Revenue string `json:"revenue"`
	Orders  int    `json:"orders"`
}

// Report is a Summary rendered in one display currency.
type Report struct {
	Currency         string      `json:"currency"`
	Revenue          string      `json:"revenue"`
	Online           string      `json:"online"`
	POS              string      `json:"pos"`
	Orders           int         `json:"orders"`
	PendingShipments int         `json:"pendingShipments"`
	ByWeekday        []ReportDay `json:"byWeekday"`
}

func (s Summary) Report(t *currency.Table, code string) Report {
	c := t.Lookup(code)
	r := Report{
		Currency:         c.Code,
		Revenue:          t.Format(s.RevenueCents, c.Code),
		Online:           t.Format(s.OnlineRevenueCents, c.Code),
		POS:              t.Format(s.POSRevenueCents, c.Code),
		Orders:           s.Orders,
		PendingShipments: s.PendingShipments,
		ByWeekday:        make([]ReportDay, 0, len(s.ByWeekday)),
	}
	for _, d := range s.ByWeekday {
		r.ByWeekday = append(r.ByWeekday, ReportDay{Day: d.Day, Revenue: t.Format(d.RevenueCents, c.Code), Orders: d.Orders})
	}
	return r
}

func (r Report) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
