// Package server exposes the metering engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/smallbiznis/metering/internal/billing/domain"
	"github.com/smallbiznis/metering/internal/config"
	invoicedomain "github.com/smallbiznis/metering/internal/invoice/domain"
	pricingdomain "github.com/smallbiznis/metering/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	genID      *snowflake.Node
	trackerSvc usagedomain.Tracker
	pricingSvc pricingdomain.TieredCalculator
	invoiceSvc invoicedomain.Manager
	billingSvc billingdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	GenID      *snowflake.Node
	TrackerSvc usagedomain.Tracker
	PricingSvc pricingdomain.TieredCalculator
	InvoiceSvc invoicedomain.Manager
	BillingSvc billingdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		genID:      p.GenID,
		trackerSvc: p.TrackerSvc,
		pricingSvc: p.PricingSvc,
		invoiceSvc: p.InvoiceSvc,
		billingSvc: p.BillingSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	usage := v1.Group("/usage")
	usage.POST("", s.TrackUsage)
	usage.POST("/check", s.CheckUsage)
	usage.GET("/records/:id", s.GetRecord)
	usage.DELETE("/records/:id", s.DeleteRecord)
	usage.GET("/summary", s.UsageSummary)
	usage.GET("/series", s.UsageSeries)
	usage.GET("/trends", s.UsageTrends)

	limits := v1.Group("/limits")
	limits.POST("", s.CreateLimit)
	limits.PATCH("/:id", s.UpdateLimit)
	limits.DELETE("/:id", s.DeleteLimit)
	limits.GET("", s.ListLimits)

	quotas := v1.Group("/quotas")
	quotas.POST("", s.CreateQuota)
	quotas.DELETE("/:id", s.DeleteQuota)
	quotas.GET("", s.ListQuotas)

	pricing := v1.Group("/pricing")
	pricing.GET("/rules", s.ListRules)
	pricing.POST("/rules", s.AddRule)
	pricing.POST("/cost", s.CalculateCost)
	pricing.POST("/cost/tiered", s.TieredCostBreakdown)
	pricing.POST("/estimate", s.EstimateCost)
	pricing.GET("/usage-cost", s.UsageCost)

	invoices := v1.Group("/invoices")
	invoices.POST("", s.CreateInvoice)
	invoices.POST("/generate", s.GenerateInvoiceFromUsage)
	invoices.GET("/:id", s.GetInvoice)
	invoices.GET("", s.ListInvoices)
	invoices.PATCH("/:id/status", s.UpdateInvoiceStatus)
	invoices.POST("/:id/payments", s.ApplyInvoicePayment)
	invoices.DELETE("/:id", s.DeleteInvoice)

	billing := v1.Group("/billing")
	billing.POST("/track", s.TrackAndBill)
	billing.GET("/cost", s.CurrentCost)
	billing.POST("/invoice", s.GenerateIntervalInvoice)
	billing.PUT("/period", s.SetCustomPeriod)
	billing.DELETE("/period/:customer_id", s.ClearCustomPeriod)
}
