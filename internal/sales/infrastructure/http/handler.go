package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/lumina-commerce/internal/currency"
	"github.com/dmehra2102/lumina-commerce/internal/dashboard"
	"github.com/dmehra2102/lumina-commerce/internal/sales/application"
	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
	"github.com/dmehra2102/lumina-commerce/pkg/idempotency"
	"github.com/dmehra2102/lumina-commerce/pkg/tracing"
)

const IdempotencyHeader = "Idempotency-Key"

// Idempotency remembers which sale a client key produced.
type Idempotency interface {
	RequestKey(scope, key string) string
	Claim(ctx context.Context, key string) (bool, string, error)
	Complete(ctx context.Context, key, result string) error
	Release(ctx context.Context, key string) error
}

type SummarySource interface {
	Summary() dashboard.Summary
}

type Handler struct {
	log        *slog.Logger
	service    *application.Service
	summary    SummarySource
	currencies *currency.Table
	idem       Idempotency
	tracer     trace.Tracer
}

// NewHandler wires the sales endpoints. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(log *slog.Logger, service *application.Service, summary SummarySource, currencies *currency.Table, idem Idempotency) *Handler {
	return &Handler{
		log:        log,
		service:    service,
		summary:    summary,
		currencies: currencies,
		idem:       idem,
		tracer:     otel.Tracer("sales-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.placeOnline)
	r.Post("/pos/sales", h.placePOS)
	r.Post("/sales/{id}/ship", h.markShipped)
	r.Get("/sales/pending", h.listPending)
	r.Get("/dashboard", h.dashboard)
	return r
}

type placeOrderReq struct {
	Items    []domain.LineItem `json:"items"`
	Customer *customerRef      `json:"customer,omitempty"`
}

type customerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type saleResp struct {
	ID             string                    `json:"id"`
	Reference      string                    `json:"reference"`
	CreatedAt      time.Time                 `json:"createdAt"`
	Channel        domain.Channel            `json:"source"`
	Items          []domain.LineItem         `json:"items"`
	TotalCents     int64                     `json:"totalCents"`
	CustomerID     string                    `json:"customerId,omitempty"`
	CustomerName   string                    `json:"customerName,omitempty"`
	DeliveryStatus domain.DeliveryStatus     `json:"deliveryStatus,omitempty"`
	Unreconciled   []domain.UnreconciledLine `json:"unreconciled,omitempty"`
}

func toResp(s domain.Sale) saleResp {
	return saleResp{
		ID:             s.ID,
		Reference:      s.Reference(),
		CreatedAt:      s.CreatedAt,
		Channel:        s.Channel,
		Items:          s.Items,
		TotalCents:     s.TotalCents,
		CustomerID:     s.CustomerID,
		CustomerName:   s.CustomerName,
		DeliveryStatus: s.DeliveryStatus,
	}
}

func (h *Handler) placeOnline(w http.ResponseWriter, r *http.Request) {
	h.place(w, r, domain.ChannelOnline)
}

func (h *Handler) placePOS(w http.ResponseWriter, r *http.Request) {
	h.place(w, r, domain.ChannelPOS)
}

func (h *Handler) place(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	ctx := tracing.WithTraceparent(r.Context(), r.Header.Get(tracing.TraceparentHeader))
	ctx, span := h.tracer.Start(ctx, "PlaceOrder")
	defer span.End()

	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", nil)
		return
	}

	var idemKey string
	if key := r.Header.Get(IdempotencyHeader); key != "" && h.idem != nil {
		idemKey = h.idem.RequestKey(string(channel), key)
		claimed, saleID, err := h.idem.Claim(ctx, idemKey)
		switch {
		case errors.Is(err, idempotency.ErrInFlight):
			writeError(w, http.StatusConflict, err.Error(), nil)
			return
		case err != nil:
			h.log.Error("idempotency claim failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable", nil)
			return
		case !claimed:
			w.Header().Set("Idempotent-Replay", "true")
			writeJSON(w, http.StatusOK, map[string]string{"id": saleID})
			return
		}
	}

	preq := application.PlaceOrderRequest{Channel: channel, Items: req.Items}
	if req.Customer != nil {
		preq.Customer = &domain.CustomerRef{ID: req.Customer.ID, Name: req.Customer.Name}
	}
	sale, err := h.service.PlaceOrder(ctx, preq)

	var recErr *application.ReconciliationError
	committed := err == nil || errors.As(err, &recErr)
	if idemKey != "" {
		h.settleClaim(ctx, idemKey, committed, sale.ID)
	}
	if !committed {
		h.writeServiceError(w, err)
		return
	}

	resp := toResp(sale)
	if recErr != nil {
		resp.Unreconciled = recErr.Lines
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) settleClaim(ctx context.Context, key string, committed bool, saleID string) {
	ctx = context.WithoutCancel(ctx)
	if committed {
		if err := h.idem.Complete(ctx, key, saleID); err != nil {
			h.log.Error("idempotency complete failed", "sale_id", saleID, "err", err)
		}
		return
	}
	if err := h.idem.Release(ctx, key); err != nil {
		h.log.Error("idempotency release failed", "err", err)
	}
}

func (h *Handler) markShipped(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "MarkShipped")
	defer span.End()

	sale, err := h.service.MarkShipped(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(sale))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	pending := h.service.ListPending()
	out := make([]saleResp, 0, len(pending))
	for _, s := range pending {
		out = append(out, toResp(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("currency")
	if code == "" {
		code = h.currencies.Default().Code
	}
	writeJSON(w, http.StatusOK, h.summary.Summary().Report(h.currencies, code))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var stockErr *application.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, err.Error(), stockErr.Shortages)
	case errors.Is(err, application.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, application.ErrInvalidState):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, application.ErrStoreUnavailable):
		h.log.Warn("store unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry", nil)
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

type errorResp struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, details any) {
	writeJSON(w, status, errorResp{Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
