package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/marketplace-ledger/internal/commission"
	"github.com/matheusmosca/marketplace-ledger/internal/config"
	"github.com/matheusmosca/marketplace-ledger/internal/inventory"
	"github.com/matheusmosca/marketplace-ledger/internal/orders"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/httpx"
	"github.com/matheusmosca/marketplace-ledger/internal/wallet"
)

func newRouter(svc *services, pool *pgxpool.Pool, tp trace.TracerProvider) *gin.Engine {
	tracer := tp.Tracer(config.ServiceName)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(config.ServiceName,
		otelgin.WithTracerProvider(tp),
		otelgin.WithFilter(func(req *http.Request) bool { return req.URL.Path != "/health" }),
	))

	r.GET("/health", healthCheck(pool))

	vendor := r.Group("/vendor", httpx.RequireVendor())
	admin := r.Group("/admin", httpx.RequireAdmin())
	api := r.Group("/api")

	walletHandler := wallet.NewHandler(svc.wallet, tracer)
	walletHandler.RegisterVendor(vendor)
	walletHandler.RegisterAdmin(admin)
	walletHandler.RegisterDTM(api)

	inventory.NewHandler(svc.inventory, tracer).Register(vendor)
	orders.NewOrderHandler(svc.orders, tracer).Register(vendor)

	commissionHandler := commission.NewHandler(svc.posting, svc.settings, tracer)
	commissionHandler.RegisterIngress(api)
	commissionHandler.RegisterAdmin(admin)

	return r
}

// healthCheck verifica a saúde do serviço
func healthCheck(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": config.ServiceName,
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": config.ServiceName,
		})
	}
}
