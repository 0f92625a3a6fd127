package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"olympus/internal/commerce/models"
	commerceservice "olympus/internal/commerce/service"
	orderstore "olympus/internal/commerce/store/order"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/httputil"
	"olympus/pkg/requestcontext"
)

// OrderService is what the order routes need from the commerce module.
type OrderService interface {
	CreateDraft(ctx context.Context, claims *id.Claims, req commerceservice.CreateDraftRequest) (*models.Order, error)
	ReplaceItems(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, items []models.Item, discount models.Money) (*models.Order, error)
	Submit(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error)
	Confirm(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error)
	StartPreparing(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error)
	MarkReady(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error)
	Complete(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error)
	Cancel(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, reason string) (*models.Order, error)
	AuthorizePayment(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, amount models.Money) (*models.Order, error)
	CapturePayment(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error)
	FailPayment(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, reason string) (*models.Order, error)
	Refund(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, amount models.Money, reason string) (*models.Order, error)
	Get(ctx context.Context, claims *id.Claims, orderID id.OrderID) (*models.Order, error)
	List(ctx context.Context, claims *id.Claims, filter orderstore.ListFilter) ([]*models.Order, error)
}

type createOrderRequest struct {
	CustomerID *id.UserID     `json:"customer_id,omitempty"`
	LocationID *id.LocationID `json:"location_id,omitempty"`
	Items      []models.Item  `json:"items"`
	Discount   models.Money   `json:"discount,omitempty"`
}

type replaceItemsRequest struct {
	Items    []models.Item `json:"items"`
	Discount models.Money  `json:"discount,omitempty"`
}

// actionRequest is the optional body of POST /orders/{id}/{action}.
type actionRequest struct {
	Amount models.Money `json:"amount,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

type orderList struct {
	Orders []*models.Order `json:"orders"`
}

type orderAction func(ctx context.Context, claims *id.Claims, orderID id.OrderID, version int64, body actionRequest) (*models.Order, error)

// OrderHandler maps order routes onto the commerce service. Every mutation
// carries the version the caller last saw in If-Match.
type OrderHandler struct {
	orders  OrderService
	logger  *slog.Logger
	actions map[string]orderAction
}

func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	versionOnly := func(op func(context.Context, *id.Claims, id.OrderID, int64) (*models.Order, error)) orderAction {
		return func(ctx context.Context, claims *id.Claims, orderID id.OrderID, version int64, _ actionRequest) (*models.Order, error) {
			return op(ctx, claims, orderID, version)
		}
	}
	return &OrderHandler{
		orders: orders,
		logger: logger,
		actions: map[string]orderAction{
			"submit":          versionOnly(orders.Submit),
			"confirm":         versionOnly(orders.Confirm),
			"start-preparing": versionOnly(orders.StartPreparing),
			"ready":           versionOnly(orders.MarkReady),
			"complete":        versionOnly(orders.Complete),
			"capture-payment": versionOnly(orders.CapturePayment),
			"cancel": func(ctx context.Context, claims *id.Claims, orderID id.OrderID, version int64, body actionRequest) (*models.Order, error) {
				return orders.Cancel(ctx, claims, orderID, version, body.Reason)
			},
			"authorize-payment": func(ctx context.Context, claims *id.Claims, orderID id.OrderID, version int64, body actionRequest) (*models.Order, error) {
				return orders.AuthorizePayment(ctx, claims, orderID, version, body.Amount)
			},
			"fail-payment": func(ctx context.Context, claims *id.Claims, orderID id.OrderID, version int64, body actionRequest) (*models.Order, error) {
				return orders.FailPayment(ctx, claims, orderID, version, body.Reason)
			},
			"refund": func(ctx context.Context, claims *id.Claims, orderID id.OrderID, version int64, body actionRequest) (*models.Order, error) {
				return orders.Refund(ctx, claims, orderID, version, body.Amount, body.Reason)
			},
		},
	}
}

// Register mounts the order routes behind requireAuth.
func (h *OrderHandler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/orders", h.handleCreate)
		r.Get("/orders", h.handleList)
		r.Get("/orders/{id}", h.handleGet)
		r.Put("/orders/{id}/items", h.handleReplaceItems)
		r.Post("/orders/{id}/{action}", h.handleAction)
	})
}

func (h *OrderHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	o, err := h.orders.CreateDraft(ctx, requestcontext.Claims(ctx), commerceservice.CreateDraftRequest{
		CustomerID: req.CustomerID,
		LocationID: req.LocationID,
		Items:      req.Items,
		Discount:   req.Discount,
	})
	if err != nil {
		logRejected(ctx, h.logger, "create order", err)
		httputil.WriteError(w, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func (h *OrderHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := listFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	orders, err := h.orders.List(ctx, requestcontext.Claims(ctx), filter)
	if err != nil {
		logRejected(ctx, h.logger, "list orders", err)
		httputil.WriteError(w, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	httputil.WriteJSON(w, http.StatusOK, orderList{Orders: orders})
}

func (h *OrderHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	o, err := h.orders.Get(ctx, requestcontext.Claims(ctx), orderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *OrderHandler) handleReplaceItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, version, err := mutationTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req replaceItemsRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	o, err := h.orders.ReplaceItems(ctx, requestcontext.Claims(ctx), orderID, version, req.Items, req.Discount)
	if err != nil {
		logRejected(ctx, h.logger, "replace items", err)
		httputil.WriteError(w, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *OrderHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "action")
	action, ok := h.actions[name]
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown order action"))
		return
	}
	orderID, version, err := mutationTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body actionRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &body); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	o, err := action(ctx, requestcontext.Claims(ctx), orderID, version, body)
	if err != nil {
		logRejected(ctx, h.logger, "order "+name, err)
		httputil.WriteError(w, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// writeOrder sends the order with its version as a strong ETag so the next
// mutation can echo it in If-Match.
func writeOrder(w http.ResponseWriter, status int, o *models.Order) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(o.Version, 10)))
	httputil.WriteJSON(w, status, o)
}

func orderIDParam(r *http.Request) (id.OrderID, error) {
	orderID, err := id.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		return id.OrderID{}, dErrors.New(dErrors.CodeBadRequest, "invalid order ID")
	}
	return orderID, nil
}

func mutationTarget(r *http.Request) (id.OrderID, int64, error) {
	orderID, err := orderIDParam(r)
	if err != nil {
		return id.OrderID{}, 0, err
	}
	version, err := ifMatchVersion(r)
	if err != nil {
		return id.OrderID{}, 0, err
	}
	return orderID, version, nil
}

// ifMatchVersion accepts `If-Match: "7"`, `If-Match: 7` and the weak form.
func ifMatchVersion(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "If-Match header with the order version is required")
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 1 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "If-Match must carry a positive order version")
	}
	return version, nil
}

func listFilter(r *http.Request) (orderstore.ListFilter, error) {
	q := r.URL.Query()
	filter := orderstore.ListFilter{Status: models.Status(q.Get("status"))}
	if raw := q.Get("customer_id"); raw != "" {
		customer, err := id.ParseUserID(raw)
		if err != nil {
			return orderstore.ListFilter{}, dErrors.New(dErrors.CodeBadRequest, "invalid customer_id")
		}
		filter.CustomerID = &customer
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return orderstore.ListFilter{}, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
