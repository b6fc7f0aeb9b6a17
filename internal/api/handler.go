package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tokenpay/internal/catalog"
	"tokenpay/internal/service"
	"tokenpay/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	recon *service.ReconciliationService
}

// NewHandler creates a new HTTP handler
func NewHandler(recon *service.ReconciliationService) *Handler {
	return &Handler{recon: recon}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/payments/notify", h.paymentNotify)
		v1.POST("/payments/notify", h.paymentNotify)
		v1.POST("/usage/consume", h.consumeUsage)
		v1.GET("/balance", h.getBalance)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// callerID extracts the authenticated user id. Session verification is
// delegated to the gateway in front of this service; only the resolved
// identity header arrives here.
func callerID(c *gin.Context) (string, bool) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return "", false
	}
	return userID, true
}

type createOrderRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.recon.CreateOrder(c.Request.Context(), userID, req.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown product"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// listOrders handles the caller's order history
func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	orders, err := h.recon.ListOrders(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by id with ownership check
func (h *Handler) getOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	view, err := h.recon.GetOrderStatus(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		case errors.Is(err, service.ErrNotOrderOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		}
		return
	}

	c.JSON(http.StatusOK, view)
}

// paymentNotify handles the provider webhook. The provider accepts the flat
// parameter set as GET query or POST form and retries based on the literal
// response body, so the ack token matters as much as the status code.
func (h *Handler) paymentNotify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, service.ProviderAckFailure)
		return
	}

	params := make(map[string]string, len(c.Request.Form))
	for key, values := range c.Request.Form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	ack, result, err := h.recon.HandleWebhook(c.Request.Context(), params)
	if err != nil {
		c.String(http.StatusInternalServerError, ack)
		return
	}

	status := http.StatusOK
	if result.Code == service.NotifyRejected {
		if errors.Is(result.Reject, service.ErrOrderNotFound) {
			status = http.StatusNotFound
		} else {
			status = http.StatusBadRequest
		}
	}

	c.String(status, ack)
}

type consumeRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// consumeUsage gates a chargeable action against the token ledger
func (h *Handler) consumeUsage(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
		return
	}

	result, err := h.recon.ConsumeForUsage(c.Request.Context(), userID, req.Amount)
	if err != nil {
		var insufficient *service.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":     "Insufficient balance",
				"required":  insufficient.Required,
				"available": insufficient.Available,
			})
		case errors.Is(err, service.ErrBalanceConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Busy, please retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to consume"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// getBalance returns the caller's two-tier balance
func (h *Handler) getBalance(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	view, err := h.recon.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
