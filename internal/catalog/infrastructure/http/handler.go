package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/lumina-commerce/internal/catalog/application"
	"github.com/dmehra2102/lumina-commerce/internal/catalog/domain"
	"github.com/dmehra2102/lumina-commerce/internal/currency"
	"github.com/dmehra2102/lumina-commerce/internal/store"
)

// Reader is the cached view the handlers answer queries from.
type Reader interface {
	Products() []domain.Product
	Product(id string) (domain.Product, bool)
	Categories() []string
	Customers() []domain.Customer
	Settings() domain.Settings
}

type Handler struct {
	log        *slog.Logger
	service    *application.Service
	reader     Reader
	st         store.Store
	currencies *currency.Table
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, reader Reader, st store.Store, currencies *currency.Table) *Handler {
	return &Handler{
		log:        log,
		service:    service,
		reader:     reader,
		st:         st,
		currencies: currencies,
		tracer:     otel.Tracer("catalog-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.getProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
		r.Put("/{id}/stock", h.setStock)
		r.Post("/{id}/stock/adjust", h.adjustStock)
	})
	r.Get("/categories", h.listCategories)
	r.Get("/customers", h.listCustomers)
	r.Post("/customers", h.createCustomer)
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
	r.Get("/currencies", h.listCurrencies)
	r.Get("/stream/{collection}", h.stream)
	return r
}

type productResp struct {
	ID         string `json:"id"`
	Version    int64  `json:"version"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Price      string `json:"price"`
	Stock      int    `json:"stock"`
	InStock    bool   `json:"inStock"`
	LowStock   bool   `json:"lowStock"`
	Category   string `json:"category"`
	ImageURL   string `json:"imageUrl,omitempty"`
	Location   string `json:"location,omitempty"`
}

func (h *Handler) toResp(p domain.Product, code string) productResp {
	return productResp{
		ID:         p.ID,
		Version:    p.Version,
		Name:       p.Name,
		PriceCents: p.PriceCents,
		Price:      h.currencies.Format(p.PriceCents, code),
		Stock:      p.Stock,
		InStock:    p.InStock(),
		LowStock:   p.LowStock(),
		Category:   p.CategoryOrDefault(),
		ImageURL:   p.ImageURL,
		Location:   p.Location,
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("currency")
	category := r.URL.Query().Get("category")
	out := []productResp{}
	for _, p := range h.reader.Products() {
		if category != "" && category != "All" && p.CategoryOrDefault() != category {
			continue
		}
		out = append(out, h.toResp(p, code))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.reader.Product(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toResp(p, r.URL.Query().Get("currency")))
}

type productReq struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Stock      int    `json:"stock"`
	Category   string `json:"category"`
	ImageURL   string `json:"imageUrl"`
	Location   string `json:"location"`
}

func (req productReq) product() domain.Product {
	return domain.Product{
		ID:         req.ID,
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
		Category:   req.Category,
		ImageURL:   req.ImageURL,
		Location:   req.Location,
	}
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateProduct")
	defer span.End()

	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	p, err := h.service.CreateProduct(ctx, req.product())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResp(p, ""))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateProduct")
	defer span.End()

	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	p, err := h.service.UpdateDetails(ctx, chi.URLParam(r, "id"), req.product())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResp(p, ""))
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetStock")
	defer span.End()

	var req struct {
		Stock *int `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stock == nil {
		writeError(w, http.StatusBadRequest, "stock is required")
		return
	}
	p, err := h.service.SetStock(ctx, chi.URLParam(r, "id"), *req.Stock)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResp(p, ""))
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdjustStock")
	defer span.End()

	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	p, err := h.service.AdjustStock(ctx, chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResp(p, ""))
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reader.Categories())
}

type customerResp struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Initial  string            `json:"initial"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	out := []customerResp{}
	for _, c := range h.reader.Customers() {
		out = append(out, customerResp{ID: c.ID, Name: c.Name, Initial: c.Initial(), Metadata: c.Metadata})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string            `json:"name"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	c, err := h.service.CreateCustomer(r.Context(), req.Name, req.Metadata)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, customerResp{ID: c.ID, Name: c.Name, Initial: c.Initial(), Metadata: c.Metadata})
}

type settingsResp struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	s := h.reader.Settings()
	writeJSON(w, http.StatusOK, settingsResp{Name: s.DisplayName(), Address: s.DisplayAddress(), Phone: s.DisplayPhone()})
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsResp
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s := domain.Settings{StoreName: req.Name, Address: req.Address, Phone: req.Phone}
	if err := h.service.UpdateSettings(r.Context(), s); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResp{Name: s.DisplayName(), Address: s.DisplayAddress(), Phone: s.DisplayPhone()})
}

type currencyResp struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Rate     string `json:"rate"`
	Decimals int    `json:"decimals"`
	Sample   string `json:"sample,omitempty"`
}

// listCurrencies returns the rate table. With ?amountCents=N every entry
// carries N rendered in that currency.
func (h *Handler) listCurrencies(w http.ResponseWriter, r *http.Request) {
	var (
		amount    int64
		hasAmount bool
	)
	if v := r.URL.Query().Get("amountCents"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "amountCents must be an integer")
			return
		}
		amount, hasAmount = n, true
	}
	out := make([]currencyResp, 0)
	for _, code := range h.currencies.Codes() {
		c := h.currencies.Lookup(code)
		cr := currencyResp{Code: c.Code, Name: c.Name, Symbol: c.Symbol, Rate: c.Rate.String(), Decimals: c.Decimals}
		if hasAmount {
			cr.Sample = h.currencies.Format(amount, code)
		}
		out = append(out, cr)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidProduct), errors.Is(err, domain.ErrInvalidCustomer), errors.Is(err, application.ErrInvalidStock):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrRetriesExhausted):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	case errors.Is(err, application.ErrStoreUnavailable):
		h.log.Warn("store unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry")
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
