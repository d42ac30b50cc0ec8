package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rentledger/internal/audit"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	"github.com/smallbiznis/rentledger/internal/authorization"
	"github.com/smallbiznis/rentledger/internal/charge"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	"github.com/smallbiznis/rentledger/internal/config"
	"github.com/smallbiznis/rentledger/internal/contract"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	"github.com/smallbiznis/rentledger/internal/economicindex"
	"github.com/smallbiznis/rentledger/internal/notification"
	"github.com/smallbiznis/rentledger/internal/observability"
	obslogger "github.com/smallbiznis/rentledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/rentledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/rentledger/internal/observability/tracing"
	"github.com/smallbiznis/rentledger/internal/payment"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	"github.com/smallbiznis/rentledger/internal/providers"
	"github.com/smallbiznis/rentledger/internal/ratelimit"
	"github.com/smallbiznis/rentledger/internal/scheduler"
	"github.com/smallbiznis/rentledger/internal/tenant"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	tenant.Module,
	contract.Module,
	charge.Module,
	economicindex.Module,
	payment.Module,
	providers.Module,
	notification.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Provide(func(s *scheduler.Scheduler) DailyChecker { return s }),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// DailyChecker runs the billing day.
type DailyChecker interface {
	DailyCheck(ctx context.Context) (scheduler.Summary, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", obsmetrics.Handler())

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	tenantSvc      tenantdomain.Service
	contractSvc    contractdomain.Service
	chargeSvc      chargedomain.Service
	paymentSvc     paymentdomain.Service
	webhookQueue   paymentdomain.Queue
	webhookLimiter *ratelimit.WebhookLimiter
	dailyCheck     DailyChecker
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	TenantSvc      tenantdomain.Service
	ContractSvc    contractdomain.Service
	ChargeSvc      chargedomain.Service
	PaymentSvc     paymentdomain.Service
	WebhookQueue   paymentdomain.Queue
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
	DailyCheck     DailyChecker
	Metrics        *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		tenantSvc:      p.TenantSvc,
		contractSvc:    p.ContractSvc,
		chargeSvc:      p.ChargeSvc,
		paymentSvc:     p.PaymentSvc,
		webhookQueue:   p.WebhookQueue,
		webhookLimiter: p.WebhookLimiter,
		dailyCheck:     p.DailyCheck,
		obsMetrics:     p.Metrics,
	}

	svc.registerCronRoutes()
	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCronRoutes() {
	s.engine.POST("/billing/daily-check", s.RunDailyCheck)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/payments/webhook", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.AuthRequired())
	api.Use(s.TenantContext())

	// -------- Contracts --------
	api.GET("/contracts", s.authorize(authorization.ObjectContract, authorization.ActionContractView), s.ListContracts)
	api.GET("/contracts/:id", s.authorize(authorization.ObjectContract, authorization.ActionContractView), s.GetContract)
	api.PATCH("/contracts/:id", s.authorize(authorization.ObjectContract, authorization.ActionContractUpdate), s.UpdateContract)

	// -------- Charges --------
	api.GET("/charges", s.authorize(authorization.ObjectCharge, authorization.ActionChargeView), s.ListCharges)
	api.POST("/charges/generate", s.authorize(authorization.ObjectCharge, authorization.ActionChargeGenerate), s.GenerateCharges)
	api.GET("/charges/:id/receipt", s.authorize(authorization.ObjectCharge, authorization.ActionChargeReceipt), s.ChargeReceipt)

	// -------- Payments --------
	api.GET("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListPayments)
	api.GET("/payments/preference/charge/:id", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentCheckout), s.ChargePreference)
	api.POST("/payments/upgrade-plan", s.authorize(authorization.ObjectTenant, authorization.ActionTenantUpgrade), s.UpgradePlanPreference)

	// -------- Reports --------
	api.GET("/reports/movements", s.authorize(authorization.ObjectReport, authorization.ActionReportExport), s.ExportMovements)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	admin.POST("/tenants", s.authorize(authorization.ObjectTenant, authorization.ActionTenantCreate), s.CreateTenant)
	admin.DELETE("/tenants/:id", s.authorize(authorization.ObjectTenant, authorization.ActionTenantPurge), s.PurgeTenant)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
