// Package handlers contains the HTTP handlers and routing.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig holds the router settings taken from the service config.
type RouterConfig struct {
	GinMode       string
	ServiceAPIKey string
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(handler *PaymentHandler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	useJSONFieldNames()

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(ZapLogger(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())

	// Health check (public)
	router.GET("/health", handler.Health)

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	payment := router.Group("/payment")
	{
		payment.POST("", handler.CreatePayment)
		// Called by the gateway; authenticated by the MAC in the body.
		payment.POST("/callback", handler.HandleCallback)
		payment.GET("/status/:orderId", handler.GetStatus)

		// Operator reconciliation (requires Bearer auth)
		payment.POST("/reconcile/:orderId", ServiceAuthMiddleware(cfg.ServiceAPIKey), handler.Reconcile)
	}

	return router
}
