package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelOnline Channel = "online"
	ChannelPOS    Channel = "pos"
)

func (c Channel) Valid() bool { return c == ChannelOnline || c == ChannelPOS }

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliveryShipped DeliveryStatus = "shipped"
)

// WalkInCustomer names POS sales rung up without a registered customer.
const WalkInCustomer = "Walk-in"

var ErrNotShippable = errors.New("sale has no delivery status")

// LineItem snapshots the product name and unit price at commit time. Later
// catalog edits never change a recorded line.
type LineItem struct {
	ProductID  string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Quantity   int    `json:"qty"`
}

func (l LineItem) SubtotalCents() int64 { return l.PriceCents * int64(l.Quantity) }

type CustomerRef struct {
	ID   string
	Name string
}

// Sale is an append-only ledger entry. Only DeliveryStatus may change after
// creation, and only from pending to shipped.
type Sale struct {
	ID             string         `json:"-"`
	Version        int64          `json:"-"`
	CreatedAt      time.Time      `json:"-"`
	Items          []LineItem     `json:"items"`
	TotalCents     int64          `json:"totalCents"`
	Channel        Channel        `json:"source"`
	CustomerID     string         `json:"customerId,omitempty"`
	CustomerName   string         `json:"customerName,omitempty"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus,omitempty"`
}

func Total(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.SubtotalCents()
	}
	return total
}

// NewSale builds an uncommitted sale. The total is always recomputed from
// the line snapshots.
func NewSale(channel Channel, items []LineItem, customer *CustomerRef) Sale {
	lines := make([]LineItem, len(items))
	copy(lines, items)

	s := Sale{
		Items:      lines,
		TotalCents: Total(lines),
		Channel:    channel,
	}
	if customer != nil {
		s.CustomerID = customer.ID
		s.CustomerName = customer.Name
	}
	switch channel {
	case ChannelOnline:
		s.DeliveryStatus = DeliveryPending
	case ChannelPOS:
		if s.CustomerName == "" {
			s.CustomerName = WalkInCustomer
		}
	}
	return s
}

// Ship returns the sale with status shipped. changed is false when the sale
// was already shipped.
func (s Sale) Ship() (shipped Sale, changed bool, err error) {
	if s.Channel != ChannelOnline {
		return s, false, ErrNotShippable
	}
	if s.DeliveryStatus == DeliveryShipped {
		return s, false, nil
	}
	s.DeliveryStatus = DeliveryShipped
	return s, true, nil
}

func (s Sale) AwaitingShipment() bool {
	return s.Channel == ChannelOnline && s.DeliveryStatus == DeliveryPending
}

// Reference is the short invoice number.
func (s Sale) Reference() string {
	ref := s.ID
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return strings.ToUpper(ref)
}

func (s Sale) Encode() ([]byte, error) { return json.Marshal(s) }

func DecodeSale(id string, version int64, createdAt time.Time, data []byte) (Sale, error) {
	var s Sale
	if err := json.Unmarshal(data, &s); err != nil {
		return Sale{}, fmt.Errorf("decode sale %s: %w", id, err)
	}
	s.ID = id
	s.Version = version
	s.CreatedAt = createdAt
	return s, nil
}

// PendingShipments keeps the online sales still waiting for dispatch, in
// ledger order.
func PendingShipments(sales []Sale) []Sale {
	var out []Sale
	for _, s := range sales {
		if s.AwaitingShipment() {
			out = append(out, s)
		}
	}
	return out
}
