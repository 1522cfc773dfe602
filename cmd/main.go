package main

import (
  "context"
  "fmt"
  "os"
  "time"

  "github.com/siteinsight/siteinsight-backend/internal/clients/redisclient"
  "github.com/siteinsight/siteinsight-backend/internal/db"
  "github.com/siteinsight/siteinsight-backend/internal/handlers"
  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/middleware"
  "github.com/siteinsight/siteinsight-backend/internal/providers"
  "github.com/siteinsight/siteinsight-backend/internal/repos"
  "github.com/siteinsight/siteinsight-backend/internal/server"
  "github.com/siteinsight/siteinsight-backend/internal/services"
  "github.com/siteinsight/siteinsight-backend/internal/utils"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Env
  log.Info("Loading environment variables from main...")
  adminJWTSecret := utils.GetEnv("ADMIN_JWT_SECRET", "defaultsecret", log)
  reportTTLDays := utils.GetEnvAsInt("REPORT_TTL_DAYS", 7, log)
  minProviderSuccess := utils.GetEnvAsInt("MIN_PROVIDER_SUCCESS", 2, log)
  pollAdvisory := services.PollAdvisoryFromEnv(log)

  // Postgres
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()

  // Redis (rate limiting only; absence fails open)
  rdb, err := redisclient.New(log)
  if err != nil {
    log.Warn("Redis init failed, rate limiting disabled", "error", err)
  }

  // Repos
  log.Info("Setting up Repos from main...")
  reportRepo := repos.NewReportRepo(thePG, log)
  unlockGrantRepo := repos.NewUnlockGrantRepo(thePG, log)
  artifactJobRepo := repos.NewArtifactJobRepo(thePG, log)

  // Providers
  registry := providers.NewRegistry()
  registry.Register(providers.NewHTMLMeta())
  registry.Register(providers.NewDNS())
  registry.Register(providers.NewTLS())

  // Services
  log.Info("Setting up Services from main...")
  bucketService, err := services.NewBucketService(log)
  if err != nil {
    log.Error("Could not init BucketService", "error", err)
    os.Exit(1)
  }
  mailer := services.NewSendgridMailer(log)
  gateService := services.NewAccessGateService(thePG, log, unlockGrantRepo, reportRepo, mailer)
  genService := services.NewReportGenerationService(
    thePG,
    log,
    reportRepo,
    registry,
    time.Duration(reportTTLDays)*24*time.Hour,
    minProviderSuccess,
  )
  pdfRenderer := services.NewPDFRenderer(log)
  previewRenderer, err := services.NewPreviewImageRenderer(log)
  if err != nil {
    log.Error("Could not init PreviewImageRenderer", "error", err)
    os.Exit(1)
  }
  artifactService := services.NewArtifactService(
    log,
    reportRepo,
    artifactJobRepo,
    gateService,
    bucketService,
    pdfRenderer,
    previewRenderer,
    pollAdvisory,
  )

  genService.StartWorker(context.Background())
  artifactService.StartWorker(context.Background())

  // Handlers
  log.Info("Setting up handlers from main...")
  reportHandler := handlers.NewReportHandler(genService, gateService, pollAdvisory)
  unlockHandler := handlers.NewUnlockHandler(gateService)
  artifactHandler := handlers.NewArtifactHandler(artifactService, pollAdvisory)
  adminHandler := handlers.NewAdminHandler(genService, artifactService)

  // Middleware
  log.Info("Setting up middleware from main...")
  clientMeta := middleware.NewClientMetaMiddleware(log)
  rateLimit := middleware.NewRateLimitMiddleware(log, rdb)
  adminAuth := middleware.NewAdminAuthMiddleware(log, adminJWTSecret)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    ReportHandler:   reportHandler,
    UnlockHandler:   unlockHandler,
    ArtifactHandler: artifactHandler,
    AdminHandler:    adminHandler,
    ClientMeta:      clientMeta,
    RateLimit:       rateLimit,
    AdminAuth:       adminAuth,
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }
}
