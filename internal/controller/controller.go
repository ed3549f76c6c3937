package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/repository"
	"order-lifecycle-service/internal/service"
	"order-lifecycle-service/internal/statemachine"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Operaciones que expone el servicio a los administradores.
type ShipmentRetrier interface {
	AdminRetry(ctx context.Context, orderID string) (*model.Shipment, error)
}

type AdminActions interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	FailedShipments(ctx context.Context, limit int64) ([]*model.Shipment, error)
	CancelShipment(ctx context.Context, shipmentID, actor string) (*model.Shipment, error)
	DeliverOrder(ctx context.Context, orderID, actor string) (*model.Order, error)
}

type Refunds interface {
	Request(ctx context.Context, paymentID, reason, requestedBy string) (*model.RefundRequest, error)
	Get(ctx context.Context, id string) (*model.RefundRequest, error)
	Approve(ctx context.Context, id, approver string) (*model.RefundRequest, error)
	RefundNow(ctx context.Context, paymentID, actor string) (*model.Payment, error)
}

type AdminController struct {
	Shipments ShipmentRetrier
	Admin     AdminActions
	Refunds   Refunds
	Logger    *zap.Logger
}

func NewAdminController(shipments ShipmentRetrier, admin AdminActions, refunds Refunds, logger *zap.Logger) *AdminController {
	return &AdminController{Shipments: shipments, Admin: admin, Refunds: refunds, Logger: logger}
}

// POST /admin/shipments/:id/retry - :id es el id de la orden
func (ctl *AdminController) RetryShipment(c *gin.Context) {
	s, err := ctl.Shipments.AdminRetry(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// POST /admin/shipments/:id/cancel
func (ctl *AdminController) CancelShipment(c *gin.Context) {
	s, err := ctl.Admin.CancelShipment(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// GET /admin/shipments/failed?limit=50
func (ctl *AdminController) FailedShipments(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	list, err := ctl.Admin.FailedShipments(c.Request.Context(), limit)
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	if list == nil {
		list = []*model.Shipment{}
	}
	c.JSON(http.StatusOK, list)
}

// GET /admin/orders/:id
func (ctl *AdminController) GetOrder(c *gin.Context) {
	o, err := ctl.Admin.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// POST /admin/orders/:id/deliver
func (ctl *AdminController) DeliverOrder(c *gin.Context) {
	o, err := ctl.Admin.DeliverOrder(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// POST /admin/payments/:id/refund
func (ctl *AdminController) RefundPayment(c *gin.Context) {
	p, err := ctl.Refunds.RefundNow(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// POST /admin/refund-requests
func (ctl *AdminController) CreateRefundRequest(c *gin.Context) {
	var req dto.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := ctl.Refunds.Request(c.Request.Context(), req.PaymentID, req.Reason, actor(c))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// GET /admin/refund-requests/:id
func (ctl *AdminController) GetRefundRequest(c *gin.Context) {
	r, err := ctl.Refunds.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// POST /admin/refund-requests/:id/approve
func (ctl *AdminController) ApproveRefundRequest(c *gin.Context) {
	r, err := ctl.Refunds.Approve(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		writeError(c, ctl.Logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// El middleware de auth deja el id del usuario en el contexto.
func actor(c *gin.Context) string {
	return c.GetString("userID")
}

// writeError traduce los errores de negocio a códigos HTTP.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var illegal *statemachine.IllegalTransitionError
	switch {
	case errors.As(err, &illegal):
		c.JSON(http.StatusBadRequest, gin.H{"error": illegal.Error()})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
