package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	catalog "github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
	"github.com/dmehra2102/lumina-commerce/internal/store"
	"github.com/dmehra2102/lumina-commerce/pkg/outbox"
	"github.com/dmehra2102/lumina-commerce/pkg/tracing"
)

// ShortfallPolicy decides what reconciliation writes when a product's current
// stock is below the quantity sold.
type ShortfallPolicy string

const (
	// ShortfallHold leaves the stock untouched and reports the line.
	ShortfallHold ShortfallPolicy = "hold"
	// ShortfallFloor writes zero and reports the line.
	ShortfallFloor ShortfallPolicy = "floor"
)

func ParseShortfallPolicy(s string) (ShortfallPolicy, error) {
	switch p := ShortfallPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ShortfallHold:
		return ShortfallHold, nil
	case ShortfallFloor:
		return ShortfallFloor, nil
	default:
		return "", fmt.Errorf("unknown shortfall policy %q", s)
	}
}

type Option func(*Service)

func WithMaxAttempts(n int) Option { return func(s *Service) { s.retry.MaxAttempts = n } }

func WithBackoff(d time.Duration) Option { return func(s *Service) { s.retry.Backoff = d } }

func WithShortfallPolicy(p ShortfallPolicy) Option { return func(s *Service) { s.shortfall = p } }

// WithReconcileTimeout bounds the post-commit stock writes, which keep running
// after the caller's context is cancelled.
func WithReconcileTimeout(d time.Duration) Option { return func(s *Service) { s.reconcileTimeout = d } }

type Service struct {
	log     *slog.Logger
	st      store.Store
	catalog Catalog
	ledger  Ledger
	events  outbox.Recorder
	tracer  trace.Tracer

	retry            store.RetryPolicy
	shortfall        ShortfallPolicy
	reconcileTimeout time.Duration
}

func NewService(log *slog.Logger, st store.Store, cat Catalog, ledger Ledger, events outbox.Recorder, opts ...Option) *Service {
	s := &Service{
		log:              log,
		st:               st,
		catalog:          cat,
		ledger:           ledger,
		events:           events,
		tracer:           otel.Tracer("lumina-commerce/sales"),
		retry:            store.DefaultRetryPolicy,
		shortfall:        ShortfallHold,
		reconcileTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type PlaceOrderRequest struct {
	Channel  domain.Channel
	Customer *domain.CustomerRef
	Items    []domain.LineItem
}

// PlaceOrder validates the cart against cached stock, appends the sale to the
// ledger and then decrements stock per product with conditional writes.
//
// A *ReconciliationError comes back together with the committed sale; every
// other error means nothing was written.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sales.PlaceOrder",
		trace.WithAttributes(attribute.String("channel", string(req.Channel)), attribute.Int("lines", len(req.Items))))
	defer span.End()

	sale, err := s.placeOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return sale, err
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (domain.Sale, error) {
	demand, err := validate(req)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.checkStock(demand); err != nil {
		return domain.Sale{}, err
	}

	sale := domain.NewSale(req.Channel, req.Items, req.Customer)
	data, err := sale.Encode()
	if err != nil {
		return domain.Sale{}, err
	}
	doc, err := s.st.Insert(ctx, store.Sales, "", data)
	if err != nil {
		return domain.Sale{}, storeError("record sale", err)
	}
	sale.ID, sale.Version, sale.CreatedAt = doc.ID, doc.Version, doc.CreatedAt
	s.log.Info("sale recorded", "sale_id", sale.ID, "channel", sale.Channel, "total_cents", sale.TotalCents)

	s.emit(ctx, sale.ID, domain.EventSaleRecorded, domain.SaleRecorded{
		SaleID:     sale.ID,
		Channel:    sale.Channel,
		TotalCents: sale.TotalCents,
		Items:      sale.Items,
	})

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reconcileTimeout)
	defer cancel()

	var failed []domain.UnreconciledLine
	for _, d := range demand {
		if line, ok := s.reconcile(rctx, d.productID, d.qty); !ok {
			failed = append(failed, line)
		}
	}
	if len(failed) == 0 {
		return sale, nil
	}

	s.log.Error("stock reconciliation incomplete", "sale_id", sale.ID, "lines", failed)
	s.emit(rctx, sale.ID, domain.EventStockReconciliationFailed, domain.StockReconciliationFailed{
		SaleID: sale.ID,
		Lines:  failed,
	})
	return sale, &ReconciliationError{SaleID: sale.ID, Lines: failed}
}

type demandLine struct {
	productID string
	name      string
	qty       int
}

// validate checks the cart shape and folds repeated products into one demand
// line each, in first-seen order.
func validate(req PlaceOrderRequest) ([]demandLine, error) {
	if !req.Channel.Valid() {
		return nil, validation("unknown channel %q", req.Channel)
	}
	if len(req.Items) == 0 {
		return nil, validation("cart is empty")
	}
	index := map[string]int{}
	var (
		demand []demandLine
		total  int64
	)
	for _, item := range req.Items {
		switch {
		case item.ProductID == "":
			return nil, validation("line without product id")
		case item.Quantity < 1:
			return nil, validation("quantity for %s must be positive", item.ProductID)
		case item.PriceCents < 0:
			return nil, validation("price for %s must not be negative", item.ProductID)
		case item.PriceCents > 0 && int64(item.Quantity) > math.MaxInt64/item.PriceCents:
			return nil, validation("line total for %s is out of range", item.ProductID)
		}
		sub := item.SubtotalCents()
		if total > math.MaxInt64-sub {
			return nil, validation("order total is out of range")
		}
		total += sub
		if i, ok := index[item.ProductID]; ok {
			if demand[i].qty > math.MaxInt-item.Quantity {
				return nil, validation("quantity for %s is out of range", item.ProductID)
			}
			demand[i].qty += item.Quantity
			continue
		}
		index[item.ProductID] = len(demand)
		demand = append(demand, demandLine{productID: item.ProductID, name: item.Name, qty: item.Quantity})
	}
	return demand, nil
}

func (s *Service) checkStock(demand []demandLine) error {
	var short []Shortage
	for _, d := range demand {
		available, name := 0, d.name
		if p, ok := s.catalog.Product(d.productID); ok {
			available, name = p.Stock, p.Name
		}
		if available < d.qty {
			short = append(short, Shortage{ProductID: d.productID, Name: name, Requested: d.qty, Available: available})
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Shortages: short}
	}
	return nil
}

// reconcile decrements one product's stock by qty with a conditional write,
// retrying on conflicts. It never writes a negative stock.
func (s *Service) reconcile(ctx context.Context, productID string, qty int) (domain.UnreconciledLine, bool) {
	var (
		applied   int
		available int
		short     bool
	)
	_, attempts, err := store.UpdateWithRetry(ctx, s.st, store.Products, productID, s.retry,
		func(doc store.Document) ([]byte, error) {
			p, err := catalog.DecodeProduct(doc.ID, doc.Version, doc.Data)
			if err != nil {
				return nil, err
			}
			available, applied, short = p.Stock, qty, false
			if p.Stock < qty {
				short = true
				applied = 0
				if s.shortfall == ShortfallHold || p.Stock <= 0 {
					return nil, store.ErrNoChange
				}
				applied = p.Stock
			}
			p.Stock -= applied
			return p.Encode()
		})

	line := domain.UnreconciledLine{ProductID: productID, Requested: qty}
	switch {
	case errors.Is(err, store.ErrNotFound):
		line.Reason = "product no longer exists"
		return line, false
	case errors.Is(err, store.ErrRetriesExhausted):
		line.Reason = fmt.Sprintf("conflicting writes after %d attempts", attempts)
		return line, false
	case err != nil:
		line.Reason = err.Error()
		return line, false
	case short:
		line.Applied = applied
		line.Reason = fmt.Sprintf("only %d in stock", available)
		return line, false
	}
	s.log.Debug("stock reconciled", "product_id", productID, "qty", qty, "attempts", attempts)
	return line, true
}

// MarkShipped moves an online sale from pending to shipped. Shipping an
// already shipped sale succeeds without writing.
func (s *Service) MarkShipped(ctx context.Context, saleID string) (domain.Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sales.MarkShipped", trace.WithAttributes(attribute.String("sale_id", saleID)))
	defer span.End()

	var (
		sale    domain.Sale
		changed bool
	)
	doc, _, err := store.UpdateWithRetry(ctx, s.st, store.Sales, saleID, s.retry,
		func(doc store.Document) ([]byte, error) {
			current, err := domain.DecodeSale(doc.ID, doc.Version, doc.CreatedAt, doc.Data)
			if err != nil {
				return nil, err
			}
			shipped, ok, err := current.Ship()
			if err != nil {
				return nil, fmt.Errorf("%w: sale %s is a %s sale", ErrInvalidState, saleID, current.Channel)
			}
			sale, changed = shipped, ok
			if !ok {
				return nil, store.ErrNoChange
			}
			return shipped.Encode()
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Sale{}, fmt.Errorf("%w: %s", ErrNotFound, saleID)
		case errors.Is(err, ErrInvalidState):
			return domain.Sale{}, err
		}
		return domain.Sale{}, storeError("mark shipped", err)
	}
	sale.Version = doc.Version

	if changed {
		s.log.Info("sale shipped", "sale_id", saleID)
		s.emit(ctx, saleID, domain.EventSaleShipped, domain.SaleShipped{SaleID: saleID})
	}
	return sale, nil
}

// ListPending returns the online sales waiting for dispatch, newest first.
func (s *Service) ListPending() []domain.Sale {
	return domain.PendingShipments(s.ledger.Sales())
}

// emit appends an event to the outbox. A failed append is logged: the ledger
// write it describes has already happened.
func (s *Service) emit(ctx context.Context, saleID, eventType string, payload any) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encode event", "sale_id", saleID, "type", eventType, "err", err)
		return
	}
	ev := outbox.Event{
		AggregateType: domain.AggregateSale,
		AggregateID:   saleID,
		Type:          eventType,
		Payload:       body,
		Traceparent:   tracing.Traceparent(ctx),
	}
	if err := s.events.Record(ctx, ev); err != nil {
		s.log.Error("record outbox event", "sale_id", saleID, "type", eventType, "err", err)
	}
}
