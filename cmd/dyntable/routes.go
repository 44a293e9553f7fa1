package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dynamic-table/internal/config"
	"dynamic-table/internal/controller"
	"dynamic-table/internal/middleware"
	"dynamic-table/internal/security"
)

type handlers struct {
	upload       *controller.UploadController
	notification *controller.NotificationController
	table        *controller.TableController
	infer        *controller.InferController
	health       *controller.HealthController
}

func (a *app) handlers() handlers {
	return handlers{
		upload:       controller.NewUploadController(a.uploads),
		notification: controller.NewNotificationController(a.notifications),
		table:        controller.NewTableController(a.tables),
		infer:        controller.NewInferController(a.infer),
		health:       controller.NewHealthController(a.db, a.health, version),
	}
}

// newRouter builds the HTTP API. The returned stop func releases the rate
// limiter's cleanup goroutine.
func newRouter(cfg *config.Config, h handlers) (*gin.Engine, func()) {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.Cors(cfg.Security.CORSOrigins))
	router.Use(middleware.CorrelationID())
	router.Use(middleware.PrometheusMiddleware())

	stop := func() {}
	if cfg.Security.EnableRateLimit {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPM:             cfg.Security.RateLimitPerMinute,
			Burst:           cfg.Security.RateLimitBurst,
			CleanupInterval: 5 * time.Minute,
		})
		router.Use(limiter.RateLimit())
		stop = limiter.Stop
	}

	var jwtManager *security.JWTManager
	if cfg.Security.EnableAuth {
		jwtManager = security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
	}
	auth := security.NewAuthMiddleware(jwtManager)

	// Always available
	router.GET("/health", h.health.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(auth.RequireAuth())
	{
		uploads := api.Group("")
		uploads.Use(auth.RequireRole(security.RoleUploader))
		{
			uploads.POST("/upload-csv", h.upload.UploadCSV)
			uploads.POST("/uploads", h.upload.Upload)
			uploads.POST("/queue/table-queue", h.upload.EnqueueCSV)
		}

		api.POST("/infer", h.infer.Infer)

		notifications := api.Group("/notifications")
		{
			notifications.GET("", h.notification.ListNotifications)
			notifications.POST("", h.notification.CreateNotification)
			notifications.PATCH("/by-key", h.notification.MarkCreatedByKey)
			notifications.PATCH("/:id/created", h.notification.MarkCreated)
			notifications.PATCH("/:id/read", h.notification.MarkRead)
		}

		tables := api.Group("/tables")
		{
			tables.GET("", h.table.ListTables)
			tables.GET("/:tableName/schema", h.table.GetSchema)
			tables.GET("/:tableName/rows", h.table.GetRows)
			tables.GET("/:tableName/search", h.table.Search)
			tables.GET("/:tableName/audit", h.table.AuditLog)

			edits := tables.Group("")
			edits.Use(auth.RequireRole(security.RoleEditor))
			edits.PUT("/:tableName/rows/:pk", h.table.UpdateRow)
			edits.DELETE("/:tableName/rows/:pk", h.table.DeleteRow)
		}
	}

	return router, stop
}
