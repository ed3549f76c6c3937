package controller

import (
	"context"
	"io"
	"net/http"
	"time"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/service"
	"order-lifecycle-service/internal/webhook"
	"order-lifecycle-service/internal/webhookauth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type PaymentApplier interface {
	Apply(ctx context.Context, n dto.PaymentNotification) (service.Outcome, error)
}

type ShipmentApplier interface {
	Apply(ctx context.Context, n dto.CarrierNotification) (service.Outcome, error)
}

type WebhookController struct {
	Sources   *webhook.Registry
	Payments  PaymentApplier
	Shipments ShipmentApplier
	Logger    *zap.Logger
}

func NewWebhookController(sources *webhook.Registry, payments PaymentApplier, shipments ShipmentApplier, logger *zap.Logger) *WebhookController {
	return &WebhookController{Sources: sources, Payments: payments, Shipments: shipments, Logger: logger}
}

// POST /webhook/:provider - no requiere token, se valida la firma del proveedor
func (ctl *WebhookController) Receive(c *gin.Context) {
	provider := c.Param("provider")
	src, ok := ctl.Sources.Lookup(provider)
	if !ok {
		ctl.reject(c, provider, "unknown provider", nil)
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown webhook provider"})
		return
	}

	// El body se lee crudo: la firma se calcula sobre los bytes exactos.
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		ctl.reject(c, src.Name, "unreadable body: "+err.Error(), nil)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	req := webhookauth.Request{Header: c.Request.Header, Body: body}

	if res := src.Auth.Verify(req); !res.OK {
		ctl.reject(c, src.Name, res.Reason, body)
		c.JSON(http.StatusUnauthorized, gin.H{"error": webhookauth.ErrUnauthenticated.Error()})
		return
	}

	var out service.Outcome
	switch src.Kind {
	case webhook.KindPayment:
		n, perr := src.ParsePayment(req)
		if perr != nil {
			ctl.reject(c, src.Name, perr.Error(), body)
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
			return
		}
		out, err = ctl.Payments.Apply(c.Request.Context(), n)
	case webhook.KindCarrier:
		n, perr := src.ParseCarrier(req)
		if perr != nil {
			ctl.reject(c, src.Name, perr.Error(), body)
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
			return
		}
		out, err = ctl.Shipments.Apply(c.Request.Context(), n)
	}
	if err != nil {
		ctl.reject(c, src.Name, err.Error(), body)
		writeError(c, ctl.Logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookResponse{
		OK:        true,
		Received:  true,
		Updated:   out.Updated,
		Duplicate: out.Duplicate,
		Note:      out.Reason,
	})
}

func (ctl *WebhookController) reject(c *gin.Context, provider, reason string, body []byte) {
	ctl.Logger.Warn("webhook rejected",
		zap.String("provider", provider),
		zap.String("reason", reason),
		zap.String("ip", c.ClientIP()),
		zap.Time("at", time.Now().UTC()),
		zap.ByteString("payload", body),
	)
}
