package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/store"
)

const principalKey = "principal"

func (r *Runner) registerRoutes(engine *gin.Engine) {
	api := engine.Group("/api/kiosk", r.authenticate())
	api.POST("/orders", r.createOrder)
	api.GET("/orders/:order_id", r.getOrder)
	api.POST("/orders/:order_id/commands", r.submitCommand)
	api.GET("/events", r.streamEvents)
}

func (r *Runner) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := r.principals.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func principalFrom(c *gin.Context) *Principal {
	p, _ := c.MustGet(principalKey).(*Principal)
	return p
}

type orderLineRequest struct {
	ItemID   int64   `json:"item_id" binding:"required"`
	Quantity int     `json:"quantity" binding:"required"`
	Wishes   *string `json:"wishes"`
}

type createOrderRequest struct {
	Items      []orderLineRequest `json:"items" binding:"required"`
	Currency   string             `json:"currency" binding:"required"`
	CustomerID *int64             `json:"customer_id"`
	SessionID  *string            `json:"session_id"`
}

type createOrderResponse struct {
	OrderID          int64  `json:"order_id"`
	Status           string `json:"status"`
	PickupNumber     string `json:"pickup_number"`
	PinCode          string `json:"pin_code"`
	TotalAmountGross string `json:"total_amount_gross"`
	Currency         string `json:"currency"`
}

// createOrder persists the order bundle, answers 201, and only then kicks
// off the FSM asynchronously. Gateway failures never surface here; they
// reach the kiosk through the event stream.
func (r *Runner) createOrder(c *gin.Context) {
	principal := principalFrom(c)

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}

	cmd := store.NewOrder{
		KioskID:    principal.KioskID,
		Currency:   req.Currency,
		CustomerID: req.CustomerID,
		SessionID:  req.SessionID,
	}
	for _, line := range req.Items {
		cmd.Lines = append(cmd.Lines, store.NewOrderLine{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			Wishes:   line.Wishes,
		})
	}

	order, err := r.store.CreateOrder(c.Request.Context(), cmd)
	if err != nil {
		r.writeError(c, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.init.Initialize(ctx, order.OrderID); err != nil {
			r.logger.Error("fsm initialization failed", "order_id", order.OrderID, "error", err)
		}
	}()

	c.JSON(http.StatusCreated, createOrderResponse{
		OrderID:          order.OrderID,
		Status:           string(order.Status),
		PickupNumber:     order.PickupNumber,
		PinCode:          order.PinCode,
		TotalAmountGross: order.TotalAmountGross.StringFixed(2),
		Currency:         order.Currency,
	})
}

type orderItemResponse struct {
	ItemID          int64   `json:"item_id"`
	NameRU          string  `json:"name_ru"`
	NameEN          string  `json:"name_en"`
	Quantity        int     `json:"quantity"`
	PriceGross      string  `json:"price_gross"`
	LineAmountGross string  `json:"line_amount_gross"`
	Wishes          *string `json:"wishes,omitempty"`
}

type orderResponse struct {
	OrderID          int64               `json:"order_id"`
	Status           string              `json:"status"`
	CurrentState     string              `json:"current_state,omitempty"`
	Currency         string              `json:"currency"`
	TotalAmountNet   string              `json:"total_amount_net"`
	TotalAmountVAT   string              `json:"total_amount_vat"`
	TotalAmountGross string              `json:"total_amount_gross"`
	PickupNumber     string              `json:"pickup_number"`
	PinCode          string              `json:"pin_code"`
	Items            []orderItemResponse `json:"items"`
}

func (r *Runner) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id must be an integer"})
		return
	}

	order, err := r.store.GetOrderDeep(c.Request.Context(), orderID)
	if err != nil {
		r.writeError(c, err)
		return
	}

	resp := orderResponse{
		OrderID:          order.OrderID,
		Status:           string(order.Status),
		Currency:         order.Currency,
		TotalAmountNet:   order.TotalAmountNet.StringFixed(2),
		TotalAmountVAT:   order.TotalAmountVAT.StringFixed(2),
		TotalAmountGross: order.TotalAmountGross.StringFixed(2),
		PickupNumber:     order.PickupNumber,
		PinCode:          order.PinCode,
	}
	if order.Runtime != nil {
		resp.CurrentState = order.Runtime.CurrentState
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ItemID:          item.ItemID,
			NameRU:          item.NameRU,
			NameEN:          item.NameEN,
			Quantity:        item.Quantity,
			PriceGross:      item.PriceGross.StringFixed(2),
			LineAmountGross: item.LineAmountGross.StringFixed(2),
			Wishes:          item.Wishes,
		})
	}
	c.JSON(http.StatusOK, resp)
}

type commandRequest struct {
	Action      string         `json:"action" binding:"required"`
	OperationID string         `json:"operation_id"`
	Parameters  map[string]any `json:"parameters"`
}

func (r *Runner) submitCommand(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id must be an integer"})
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}

	result, err := r.commander.ExecuteCommand(c.Request.Context(), orderID, req.Action, req.OperationID)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (r *Runner) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		r.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
