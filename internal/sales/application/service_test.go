package application

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	catalog "github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
	"github.com/dmehra2102/lumina-commerce/internal/store"
	"github.com/dmehra2102/lumina-commerce/internal/store/memory"
	"github.com/dmehra2102/lumina-commerce/internal/store/mocks"
	"github.com/dmehra2102/lumina-commerce/pkg/logging"
	"github.com/dmehra2102/lumina-commerce/pkg/outbox"
)

// staticCatalog is a frozen cached view, as seen by a client whose cache has
// not caught up with concurrent writes yet.
type staticCatalog map[string]catalog.Product

func (c staticCatalog) Product(id string) (catalog.Product, bool) {
	p, ok := c[id]
	return p, ok
}

type staticLedger []domain.Sale

func (l staticLedger) Sales() []domain.Sale { return l }

type fixture struct {
	st      *memory.Store
	events  *outbox.MemoryStore
	catalog staticCatalog
	svc     *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{st: memory.New(), events: outbox.NewMemoryStore(), catalog: staticCatalog{}}
	opts = append([]Option{WithBackoff(0)}, opts...)
	f.svc = NewService(logging.Discard(), f.st, f.catalog, staticLedger(nil), f.events, opts...)
	t.Cleanup(func() { _ = f.st.Close() })
	return f
}

func (f *fixture) seed(t *testing.T, id string, price int64, stock int) {
	t.Helper()
	p := catalog.Product{ID: id, Name: "Product " + id, PriceCents: price, Stock: stock}
	data, err := p.Encode()
	require.NoError(t, err)
	_, err = f.st.Insert(context.Background(), store.Products, id, data)
	require.NoError(t, err)
	f.catalog[id] = p
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	doc, err := f.st.Get(context.Background(), store.Products, id)
	require.NoError(t, err)
	p, err := catalog.DecodeProduct(doc.ID, doc.Version, doc.Data)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) eventTypes() []string {
	var types []string
	for _, ev := range f.events.Events() {
		types = append(types, ev.Type)
	}
	return types
}

func line(id string, price int64, qty int) domain.LineItem {
	return domain.LineItem{ProductID: id, Name: "Product " + id, PriceCents: price, Quantity: qty}
}

func TestPlaceOrder_RecordsSaleAndDecrementsStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 1000, 5)

	sale, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelOnline,
		Items:   []domain.LineItem{line("A", 1000, 2)},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, sale.ID)
	assert.False(t, sale.CreatedAt.IsZero())
	assert.Equal(t, int64(2000), sale.TotalCents)
	assert.Equal(t, domain.DeliveryPending, sale.DeliveryStatus)
	assert.Equal(t, 3, f.stock(t, "A"))
	assert.Equal(t, []string{domain.EventSaleRecorded}, f.eventTypes())

	doc, err := f.st.Get(context.Background(), store.Sales, sale.ID)
	require.NoError(t, err)
	stored, err := domain.DecodeSale(doc.ID, doc.Version, doc.CreatedAt, doc.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.TotalCents)
}

func TestPlaceOrder_TotalIgnoresLaterPriceChanges(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 1000, 5)

	sale, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelPOS,
		Items:   []domain.LineItem{line("A", 1000, 1)},
	})
	require.NoError(t, err)

	_, _, err = store.UpdateWithRetry(context.Background(), f.st, store.Products, "A", store.DefaultRetryPolicy,
		func(doc store.Document) ([]byte, error) {
			p, err := catalog.DecodeProduct(doc.ID, doc.Version, doc.Data)
			require.NoError(t, err)
			p.PriceCents = 9999
			return p.Encode()
		})
	require.NoError(t, err)

	doc, err := f.st.Get(context.Background(), store.Sales, sale.ID)
	require.NoError(t, err)
	stored, err := domain.DecodeSale(doc.ID, doc.Version, doc.CreatedAt, doc.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.TotalCents)
	assert.Equal(t, domain.Total(stored.Items), stored.TotalCents)
	assert.Equal(t, domain.WalkInCustomer, stored.CustomerName)
}

func TestPlaceOrder_MergesRepeatedProducts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 500, 5)

	sale, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelPOS,
		Items:   []domain.LineItem{line("A", 500, 2), line("A", 500, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), sale.TotalCents)
	assert.Equal(t, 2, f.stock(t, "A"))
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 500, 5)

	cases := map[string]PlaceOrderRequest{
		"empty cart":    {Channel: domain.ChannelOnline},
		"zero quantity": {Channel: domain.ChannelOnline, Items: []domain.LineItem{line("A", 500, 0)}},
		"no product id": {Channel: domain.ChannelOnline, Items: []domain.LineItem{line("", 500, 1)}},
		"bad channel":   {Channel: "fax", Items: []domain.LineItem{line("A", 500, 1)}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 5, f.stock(t, "A"))
	assert.Empty(t, f.events.Events())
}

func TestPlaceOrder_RejectsTotalsOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "X", 5_000_000_000_000_000_000, 5)
	f.seed(t, "Y", math.MaxInt64/2+1, 5)

	cases := map[string][]domain.LineItem{
		"line overflows":  {line("X", 5_000_000_000_000_000_000, 2)},
		"total overflows": {line("Y", math.MaxInt64/2+1, 1), line("Y", math.MaxInt64/2+1, 1)},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{Channel: domain.ChannelOnline, Items: items})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	sale, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelOnline,
		Items:   []domain.LineItem{line("X", 5_000_000_000_000_000_000, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000_000_000_000_000), sale.TotalCents)

	assert.Equal(t, 4, f.stock(t, "X"))
	assert.Equal(t, 5, f.stock(t, "Y"))
	assert.Equal(t, []string{domain.EventSaleRecorded}, f.eventTypes())
}

// stalledProducts blocks every product read until ctx ends.
type stalledProducts struct {
	store.Store
}

func (s stalledProducts) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	if c == store.Products {
		<-ctx.Done()
		return store.Document{}, ctx.Err()
	}
	return s.Store.Get(ctx, c, id)
}

func TestPlaceOrder_ReconcileTimeoutBoundsStockWrites(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 100, 5)
	svc := NewService(logging.Discard(), stalledProducts{f.st}, f.catalog, staticLedger(nil), f.events,
		WithReconcileTimeout(20*time.Millisecond))

	start := time.Now()
	sale, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelPOS,
		Items:   []domain.LineItem{line("A", 100, 1)},
	})
	assert.Less(t, time.Since(start), 5*time.Second)

	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, sale.ID, recErr.SaleID)
	require.Len(t, recErr.Lines, 1)
	assert.Contains(t, recErr.Lines[0].Reason, context.DeadlineExceeded.Error())
	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestPlaceOrder_InsufficientStockWritesNothing(t *testing.T) {
	st := &mocks.MockStore{}
	cat := staticCatalog{"A": {ID: "A", Name: "Mug", Stock: 1}}
	svc := NewService(logging.Discard(), st, cat, staticLedger(nil), nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelOnline,
		Items:   []domain.LineItem{line("A", 100, 2), line("ghost", 100, 1)},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, []Shortage{
		{ProductID: "A", Name: "Mug", Requested: 2, Available: 1},
		{ProductID: "ghost", Name: "Product ghost", Requested: 1, Available: 0},
	}, stockErr.Shortages)
	st.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPlaceOrder_StoreUnavailable(t *testing.T) {
	st := &mocks.MockStore{}
	st.On("Insert", mock.Anything, store.Sales, "", mock.Anything).
		Return(store.Document{}, errors.Join(store.ErrUnavailable, errors.New("connection refused"))).Once()
	cat := staticCatalog{"A": {ID: "A", Stock: 5}}
	svc := NewService(logging.Discard(), st, cat, staticLedger(nil), nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelPOS,
		Items:   []domain.LineItem{line("A", 100, 1)},
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	st.AssertExpectations(t)
	st.AssertNotCalled(t, "UpdateIf", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPlaceOrder_TwoConcurrentOrdersOnStaleCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "B", 700, 4)

	var wg sync.WaitGroup
	results := make([]error, 2)
	sales := make([]domain.Sale, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sales[i], results[i] = f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Channel: domain.ChannelOnline,
				Items:   []domain.LineItem{line("B", 700, 3)},
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.stock(t, "B"))
	failures := 0
	for i, err := range results {
		require.NotEmpty(t, sales[i].ID, "both sales are recorded")
		if err != nil {
			require.ErrorIs(t, err, ErrStockReconciliationFailed)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestPlaceOrder_ContendedStockNeverGoesNegative(t *testing.T) {
	const (
		orders = 20
		stock  = 5
	)
	f := newFixture(t, WithMaxAttempts(orders+1))
	f.seed(t, "C", 100, stock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failed    int
	)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Channel: domain.ChannelPOS,
				Items:   []domain.LineItem{line("C", 100, 1)},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrStockReconciliationFailed), errors.Is(err, ErrInsufficientStock):
				failed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, orders-stock, failed)
	assert.Equal(t, 0, f.stock(t, "C"))
}

func TestPlaceOrder_FloorPolicyClampsAtZero(t *testing.T) {
	f := newFixture(t, WithShortfallPolicy(ShortfallFloor))
	f.seed(t, "D", 100, 2)
	f.catalog["D"] = catalog.Product{ID: "D", Name: "Product D", Stock: 5}

	sale, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelPOS,
		Items:   []domain.LineItem{line("D", 100, 3)},
	})
	require.ErrorIs(t, err, ErrStockReconciliationFailed)
	assert.NotEmpty(t, sale.ID)

	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	require.Len(t, recErr.Lines, 1)
	assert.Equal(t, 3, recErr.Lines[0].Requested)
	assert.Equal(t, 2, recErr.Lines[0].Applied)
	assert.Equal(t, 0, f.stock(t, "D"))
	assert.Equal(t, []string{domain.EventSaleRecorded, domain.EventStockReconciliationFailed}, f.eventTypes())
}

func TestPlaceOrder_DeletedProductIsReported(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 100, 5)
	f.catalog["gone"] = catalog.Product{ID: "gone", Name: "Gone", Stock: 3}

	sale, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Channel: domain.ChannelPOS,
		Items:   []domain.LineItem{line("A", 100, 1), line("gone", 100, 1)},
	})
	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, sale.ID, recErr.SaleID)
	require.Len(t, recErr.Lines, 1)
	assert.Equal(t, "gone", recErr.Lines[0].ProductID)
	assert.Equal(t, 4, f.stock(t, "A"))
}

func TestMarkShipped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 100, 5)
	ctx := context.Background()

	online, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{Channel: domain.ChannelOnline, Items: []domain.LineItem{line("A", 100, 1)}})
	require.NoError(t, err)
	pos, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{Channel: domain.ChannelPOS, Items: []domain.LineItem{line("A", 100, 1)}})
	require.NoError(t, err)

	first, err := f.svc.MarkShipped(ctx, online.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryShipped, first.DeliveryStatus)

	second, err := f.svc.MarkShipped(ctx, online.ID)
	require.NoError(t, err)
	assert.Equal(t, first.DeliveryStatus, second.DeliveryStatus)
	assert.Equal(t, first.Version, second.Version)

	_, err = f.svc.MarkShipped(ctx, pos.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.MarkShipped(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	shipped := 0
	for _, typ := range f.eventTypes() {
		if typ == domain.EventSaleShipped {
			shipped++
		}
	}
	assert.Equal(t, 1, shipped)
}

func TestListPending(t *testing.T) {
	ledger := staticLedger{
		{ID: "s2", Channel: domain.ChannelOnline, DeliveryStatus: domain.DeliveryPending},
		{ID: "s1", Channel: domain.ChannelOnline, DeliveryStatus: domain.DeliveryShipped},
		{ID: "s0", Channel: domain.ChannelPOS},
	}
	svc := NewService(logging.Discard(), memory.New(), staticCatalog{}, ledger, nil)
	pending := svc.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "s2", pending[0].ID)
}

func TestParseShortfallPolicy(t *testing.T) {
	p, err := ParseShortfallPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ShortfallHold, p)

	p, err = ParseShortfallPolicy("FLOOR")
	require.NoError(t, err)
	assert.Equal(t, ShortfallFloor, p)

	_, err = ParseShortfallPolicy("oversell")
	assert.Error(t, err)
}
