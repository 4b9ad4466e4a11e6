package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"restaurant-orders-api/feed"
	"restaurant-orders-api/lifecycle"
	"restaurant-orders-api/middleware"
	"restaurant-orders-api/models"
	"restaurant-orders-api/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// retryAfterSeconds is the hint sent with 409/503 responses the caller may retry.
const retryAfterSeconds = "1"

// OrderHandler serves the order endpoints.
type OrderHandler struct {
	store  *store.Store
	engine *lifecycle.Engine
	feed   *feed.Gateway
	log    *slog.Logger

	// externalMarker in a PATCH body's cancelled_by marks the change as
	// coming from the fulfillment backend.
	externalMarker string
}

func NewOrderHandler(s *store.Store, engine *lifecycle.Engine, gateway *feed.Gateway, externalMarker string, log *slog.Logger) *OrderHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OrderHandler{
		store:          s,
		engine:         engine,
		feed:           gateway,
		log:            log,
		externalMarker: externalMarker,
	}
}

// ListOrders returns orders newest first. ?since limits the page to orders
// updated after that instant; If-None-Match short-circuits to 304.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	q := feed.Query{IfNoneMatch: c.GetHeader("If-None-Match")}

	if raw := c.Query("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since timestamp, expected RFC3339"})
			return
		}
		q.Since = &since
	}
	if raw := c.Query("status"); raw != "" {
		status := models.OrderStatus(raw)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
			return
		}
		q.Status = status
	}

	res, err := h.feed.List(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	if res.ETag != "" {
		c.Header("ETag", res.ETag)
		c.Header("Last-Modified", res.LastModified.UTC().Format(http.TimeFormat))
	}
	if res.NotModified {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(http.StatusOK, res.Orders)
}

type CreateOrderItemRequest struct {
	Name                string           `json:"name" binding:"required,max=200"`
	Quantity            int              `json:"quantity" binding:"required,min=1"`
	Price               *decimal.Decimal `json:"price" binding:"required"`
	SpecialInstructions *string          `json:"special_instructions"`
}

type CreateOrderRequest struct {
	ID                  string                   `json:"id" binding:"required,max=50"`
	CustomerName        string                   `json:"customer_name" binding:"required,max=100"`
	CustomerPhone       string                   `json:"customer_phone" binding:"required,max=20"`
	DeliveryAddress     string                   `json:"delivery_address" binding:"required"`
	TotalAmount         *decimal.Decimal         `json:"total_amount"`
	SpecialInstructions *string                  `json:"special_instructions"`
	Items               []CreateOrderItemRequest `json:"items" binding:"dive"`
}

// toOrder checks the money fields the binding tags cannot express and
// builds the order. A missing total is derived from the items.
func (req *CreateOrderRequest) toOrder() (*models.Order, error) {
	order := &models.Order{
		ID:                  strings.TrimSpace(req.ID),
		CustomerName:        req.CustomerName,
		CustomerPhone:       req.CustomerPhone,
		DeliveryAddress:     req.DeliveryAddress,
		SpecialInstructions: req.SpecialInstructions,
		Items:               make([]models.OrderItem, 0, len(req.Items)),
	}
	if order.ID == "" {
		return nil, errors.New("id must not be blank")
	}
	for _, it := range req.Items {
		if it.Price.IsNegative() {
			return nil, errors.New("item price must not be negative")
		}
		order.Items = append(order.Items, models.OrderItem{
			Name:                it.Name,
			Quantity:            it.Quantity,
			Price:               it.Price.Round(2),
			SpecialInstructions: it.SpecialInstructions,
		})
	}

	computed := order.ItemsTotal()
	switch {
	case req.TotalAmount == nil:
		order.TotalAmount = computed
	case req.TotalAmount.IsNegative():
		return nil, errors.New("total_amount must not be negative")
	case len(order.Items) > 0 && !req.TotalAmount.Equal(computed):
		return nil, errors.New("total_amount " + req.TotalAmount.StringFixed(2) + " does not match items total " + computed.StringFixed(2))
	default:
		order.TotalAmount = req.TotalAmount.Round(2)
	}
	return order, nil
}

// CreateOrder persists an order with its items and assigns a display number.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := req.toOrder()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Create(c.Request.Context(), order); err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Info("order created",
		"order_id", order.ID,
		"display_number", order.DisplayNumber,
		"request_id", middleware.GetRequestID(c),
	)
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type UpdateOrderRequest struct {
	Status      models.OrderStatus `json:"status" binding:"required"`
	CancelledBy string             `json:"cancelled_by"`
}

// UpdateOrder applies a status change requested by staff or, when
// cancelled_by carries the marker, by the fulfillment backend.
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	var req UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	origin := models.OriginStaff
	if h.externalMarker != "" && req.CancelledBy == h.externalMarker {
		origin = models.OriginExternal
	}

	order, err := h.engine.Apply(c.Request.Context(), c.Param("id"), req.Status, origin)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelOrder is the fulfillment backend's cancel surface. It never echoes
// a notification back.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// DeleteOrder is administrative; the lifecycle never deletes orders.
func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Warn("order deleted", "order_id", c.Param("id"), "request_id", middleware.GetRequestID(c))
	c.Status(http.StatusNoContent)
}

// Summary returns the order count per status for the display tabs.
func (h *OrderHandler) Summary(c *gin.Context) {
	counts, err := h.feed.Summary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"by_status": counts,
	})
}

// writeError maps domain errors onto status codes.
func (h *OrderHandler) writeError(c *gin.Context, err error) {
	var terr *lifecycle.TransitionError
	switch {
	case errors.Is(err, lifecycle.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
	case errors.As(err, &terr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":             "Invalid state transition",
			"current_status":    terr.From,
			"requested":         terr.To,
			"reason":            terr.Error(),
			"valid_next_states": terr.Valid,
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, store.ErrDuplicateID):
		c.JSON(http.StatusConflict, gin.H{"error": "An order with this id already exists"})
	case errors.Is(err, store.ErrDisplayNumberTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Display number is held by another open order"})
	case errors.Is(err, store.ErrConcurrentModification):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusConflict, gin.H{"error": "Order was modified concurrently, retry"})
	case errors.Is(err, store.ErrAllocationExhausted):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No display number available, retry later"})
	default:
		h.log.Error("request failed",
			"error", err,
			"path", c.Request.URL.Path,
			"request_id", middleware.GetRequestID(c),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// parseSince accepts RFC3339 with optional fraction. A '+' offset that the
// query string decoded into a space is restored first.
func parseSince(raw string) (time.Time, error) {
	raw = strings.ReplaceAll(raw, " ", "+")
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
