package server

import (
  "os"
  "strings"
  "time"

  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"

  "github.com/siteinsight/siteinsight-backend/internal/handlers"
  "github.com/siteinsight/siteinsight-backend/internal/middleware"
)

type RouterConfig struct {
  ReportHandler   *handlers.ReportHandler
  UnlockHandler   *handlers.UnlockHandler
  ArtifactHandler *handlers.ArtifactHandler
  AdminHandler    *handlers.AdminHandler

  ClientMeta *middleware.ClientMetaMiddleware
  RateLimit  *middleware.RateLimitMiddleware
  AdminAuth  *middleware.AdminAuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins:     allowedOrigins(),
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

  router.Use(cfg.ClientMeta.Attach())

  writeLimit := cfg.RateLimit.Limit(20, time.Minute)

// ===============
// || Public    ||
// ===============
  router.GET("/healthcheck", handlers.HealthCheck)
  api := router.Group("/api")
  {
    api.POST("/reports", writeLimit, cfg.ReportHandler.Create)
    api.GET("/reports/:key", cfg.ReportHandler.Get)
    api.POST("/reports/:key/unlock", writeLimit, cfg.UnlockHandler.Unlock)

    api.POST("/reports/:key/artifacts/:type", writeLimit, cfg.ArtifactHandler.Generate)
    api.GET("/reports/:key/artifacts/:type/status", cfg.ArtifactHandler.Status)
    api.GET("/reports/:key/artifacts/:type/download", writeLimit, cfg.ArtifactHandler.Download)
    api.POST("/reports/:key/artifacts/:type/regenerate", writeLimit, cfg.ArtifactHandler.RegeneratePreview)
  }

// ===============
// || Admin     ||
// ===============
  admin := router.Group("/api/admin")
  admin.Use(cfg.AdminAuth.RequireAdmin())
  admin.POST("/reports/:key/regenerate", cfg.AdminHandler.Regenerate)
  admin.POST("/reports/:key/artifacts/:type/regenerate", cfg.AdminHandler.RegenerateArtifact)
  admin.GET("/reports/:key/diagnostics", cfg.AdminHandler.Diagnostics)

  return router
}

func allowedOrigins() []string {
  if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw != "" {
    return strings.Split(raw, ",")
  }
  return []string{
    "http://localhost:80",
    "http://localhost:3000",
    "http://localhost:5173",
  }
}
