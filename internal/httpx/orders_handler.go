package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-placement/internal/inventory"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
)

// HeaderUserID carries the caller's identity, set by the gateway in front of the API.
const HeaderUserID = "X-User-Id"

type OrderService interface {
	PlaceOrder(ctx context.Context, userID string) (orders.OrderDetails, error)
	FindOrders(ctx context.Context, userID string, q orders.OrderQuery) ([]orders.OrderSummary, error)
	FindOrderByID(ctx context.Context, userID, orderID string) (orders.OrderDetails, error)
}

type OrdersHandler struct {
	Service OrderService
}

type errorResp struct {
	Error     string `json:"error"`
	ProductID string `json:"productId,omitempty"`
}

type listOrdersResp struct {
	Orders []orders.OrderSummary `json:"orders"`
	// empty on the last page
	NextLastID string `json:"nextLastId,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/", h.placeOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderUserID) == "" {
			writeJSON(w, http.StatusUnauthorized, errorResp{Error: "missing " + HeaderUserID})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	details, err := h.Service.PlaceOrder(ctx, r.Header.Get(HeaderUserID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, details)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q, err := parseOrderQuery(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page, err := h.Service.FindOrders(ctx, r.Header.Get(HeaderUserID), q)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := listOrdersResp{Orders: page}
	if len(page) > 0 {
		resp.NextLastID = page[len(page)-1].OrderID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || orderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid order id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	details, err := h.Service.FindOrderByID(ctx, r.Header.Get(HeaderUserID), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func parseOrderQuery(v url.Values) (orders.OrderQuery, error) {
	q := orders.OrderQuery{LastID: v.Get("lastId")}
	for _, f := range []struct {
		name string
		dst  **int
	}{{"year", &q.Year}, {"month", &q.Month}, {"day", &q.Day}} {
		s := v.Get(f.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, errors.Errorf("invalid %s %q", f.name, s)
		}
		*f.dst = &n
	}
	return q, nil
}

func writeError(w http.ResponseWriter, err error) {
	if pe, ok := orders.AsPlacementError(err); ok {
		switch e := pe.(type) {
		case *orders.EmptyCartError:
			writeJSON(w, http.StatusBadRequest, errorResp{Error: e.Error()})
		case *orders.ProductNotFoundError:
			writeJSON(w, http.StatusNotFound, errorResp{Error: e.Error(), ProductID: e.ProductID})
		case *orders.NotEnoughStockError:
			writeJSON(w, http.StatusConflict, errorResp{Error: e.Error(), ProductID: e.ProductID})
		}
		return
	}
	switch {
	case errors.Is(err, orders.ErrInvalidOrderQuery):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: "order not found"})
	case errors.Is(err, inventory.ErrContentionExhausted):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "stock is busy, retry later"})
	case errors.Is(err, orders.ErrOrderExists):
		writeJSON(w, http.StatusConflict, errorResp{Error: "order already exists, retry"})
	default:
		zlog.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal error"})
	}
}
