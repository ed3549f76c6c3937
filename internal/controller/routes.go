package controller

import "github.com/gin-gonic/gin"

// RegisterRoutes monta las rutas públicas de webhooks y el grupo admin. Los
// middlewares de auth se pasan en orden.
func RegisterRoutes(r gin.IRouter, wh *WebhookController, adm *AdminController, protect ...gin.HandlerFunc) {
	// Rutas públicas
	r.POST("/webhook/:provider", wh.Receive)

	// Rutas admin
	admin := r.Group("/admin")
	admin.Use(protect...)

	admin.POST("/shipments/:id/retry", adm.RetryShipment)
	admin.POST("/shipments/:id/cancel", adm.CancelShipment)
	admin.GET("/shipments/failed", adm.FailedShipments)

	admin.GET("/orders/:id", adm.GetOrder)
	admin.POST("/orders/:id/deliver", adm.DeliverOrder)

	admin.POST("/payments/:id/refund", adm.RefundPayment)

	admin.POST("/refund-requests", adm.CreateRefundRequest)
	admin.GET("/refund-requests/:id", adm.GetRefundRequest)
	admin.POST("/refund-requests/:id/approve", adm.ApproveRefundRequest)
}
