package handler

import (
	"net/http"

	"credential_verifier/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Verifications *VerificationHandler
	JWT           *auth.JWTService
	UploadDir     string
	MaxBytes      int64
	Gatherer      prometheus.Gatherer
	// HealthCheck проверяет зависимости; nil означает, что проверять нечего
	HealthCheck func(c *gin.Context) error
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(cfg.Logger))
	// запас на поля формы поверх самого файла
	r.MaxMultipartMemory = cfg.MaxBytes + 1<<20

	r.GET("/health", func(c *gin.Context) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.UploadDir != "" {
		r.Static("/uploads/diplomas", cfg.UploadDir)
	}

	h := cfg.Verifications
	api := r.Group("/api/v1", AuthMiddleware(cfg.JWT, cfg.Logger))

	api.POST("/verifications", RequireRole(auth.ProfessionalRoles...), h.Submit)

	admin := api.Group("/admin/verifications", RequireRole(auth.RoleAdmin))
	admin.GET("", h.List)
	admin.GET("/statistics", h.Statistics)
	admin.GET("/process-pending/token", h.ProcessPendingToken)
	admin.POST("/process-pending", h.ProcessPending)
	admin.GET("/:id", h.Get)
	admin.POST("/:id/reprocess", h.Reprocess)
	admin.POST("/:id/approve", h.Approve)
	admin.POST("/:id/reject", h.Reject)

	return r
}
