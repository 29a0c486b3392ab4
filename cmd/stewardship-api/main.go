package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/atb-stewardship-api/api/swagger"
	"github.com/noah-isme/atb-stewardship-api/internal/handler"
	"github.com/noah-isme/atb-stewardship-api/internal/middleware"
	"github.com/noah-isme/atb-stewardship-api/internal/repository"
	"github.com/noah-isme/atb-stewardship-api/internal/service"
	"github.com/noah-isme/atb-stewardship-api/pkg/broker"
	"github.com/noah-isme/atb-stewardship-api/pkg/cache"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	"github.com/noah-isme/atb-stewardship-api/pkg/config"
	"github.com/noah-isme/atb-stewardship-api/pkg/database"
	"github.com/noah-isme/atb-stewardship-api/pkg/export"
	"github.com/noah-isme/atb-stewardship-api/pkg/jobs"
	"github.com/noah-isme/atb-stewardship-api/pkg/logger"
	"github.com/noah-isme/atb-stewardship-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/atb-stewardship-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/atb-stewardship-api/pkg/middleware/requestid"
	"github.com/noah-isme/atb-stewardship-api/pkg/scheduler"
	"github.com/noah-isme/atb-stewardship-api/pkg/storage"
)

// @title Antimicrobial Stewardship API
// @version 1.0.0
// @description Patient board, day-of-therapy tracking, course authorization and stewardship housekeeping.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database, logr)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	clk := clock.NewSystem(cfg.Location())
	validate := validator.New()
	metrics := service.NewMetricsService()

	publisher := broker.Publisher(broker.Noop{})
	if cfg.Broker.Enabled {
		amqpPublisher, err := broker.Dial(cfg.Broker, logr.Named("broker"))
		if err != nil {
			return err
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	var sender mailer.Sender = mailer.NewLogSender(logr.Named("mailer"))
	if cfg.Mail.Enabled {
		smtpSender, err := mailer.NewSMTPSender(cfg.Mail, logr.Named("mailer"))
		if err != nil {
			return err
		}
		sender = smtpSender
	}

	// repositories
	patientRepo := repository.NewPatientRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	reportRepo := repository.NewMonthlyReportRepository(db)
	configRepo := repository.NewConfigurationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "stewardship", logr.Named("cache"))

	markers, err := markerStore(cfg, db, redisClient)
	if err != nil {
		return err
	}

	// services
	configSvc := service.NewConfigurationService(configRepo, auditRepo, validate, logr.Named("configuration"), service.ConfigurationServiceConfig{
		Defaults: service.ConfigurationDefaults(cfg),
	})
	fallback, err := fallbackPolicy(cfg.Therapy)
	if err != nil {
		return err
	}
	calculator := service.NewTherapyCalculator(clk, configSvc, fallback, logr.Named("therapy"))
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr.Named("cache"), cfg.Cache.Enabled)

	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return fmt.Errorf("init report storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL, clk)
	exporter := service.NewExportService(files, signer, service.ExportConfig{APIPrefix: cfg.APIPrefix}, logr.Named("export"),
		export.NewCSVExporter(), export.NewPDFExporter(cfg.Reports.HospitalName))

	worker := service.NewReportDeliveryWorker(reportRepo, exporter, configSvc, sender, clk.Now, cfg.Reports.WorkerRetries, logr.Named("report-delivery"))
	deliveryQueue := jobs.NewQueue("report-delivery", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 30 * time.Second,
		MaxDelay:   15 * time.Minute,
		Logger:     logr,
	})

	authSvc := service.NewAuthService(validate, logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	}, clk)
	alertSvc := service.NewAlertService(alertRepo, publisher, clk, validate, logr.Named("alerts"))
	reportSvc := service.NewMonthlyReportService(reportRepo, patientRepo, courseRepo, calculator, configSvc, exporter, deliveryQueue, logr.Named("reports"))
	patientSvc := service.NewPatientService(patientRepo, auditRepo, auditRepo, cacheSvc, clk, validate, logr.Named("patients"), service.PatientServiceConfig{
		CriticalCareSectors: cfg.Therapy.CriticalCareSectors,
	})
	courseSvc := service.NewCourseService(courseRepo, patientRepo, calculator, auditRepo, cacheSvc, validate, logr.Named("courses"))
	boardSvc := service.NewBoardService(patientRepo, courseRepo, calculator, cacheSvc, validate, logr.Named("board"))
	housekeeping := service.NewHousekeepingService(patientRepo, courseRepo, alertSvc, reportSvc, calculator, auditRepo, cacheSvc, logr.Named("housekeeping"))

	engine, err := scheduler.New(clk, configSvc, markers, housekeeping.Tasks(), scheduler.Options{
		Interval: cfg.Scheduler.PollInterval,
		Logger:   logr.Named("scheduler"),
		Observer: metrics,
	})
	if err != nil {
		return err
	}
	schedulerSvc := service.NewSchedulerService(engine, configSvc, clk, clk.Location().String(), logr.Named("scheduler"))

	// HTTP
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(reqidmiddleware.Middleware())
	router.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	router.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	router.Use(middleware.Metrics(metrics))

	ops := handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return database.Ping(ctx, db) },
		"redis":    func(ctx context.Context) error { return cache.Ping(ctx, redisClient) },
	})
	router.GET("/health", ops.Health)
	router.GET("/ready", ops.Ready)
	router.GET("/metrics", ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(router.Group(cfg.APIPrefix), handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Patients:      handler.NewPatientHandler(patientSvc, boardSvc, courseSvc),
		Courses:       handler.NewCourseHandler(courseSvc),
		Alerts:        handler.NewAlertHandler(alertSvc),
		Reports:       handler.NewReportHandler(reportSvc),
		Configuration: handler.NewConfigurationHandler(configSvc),
		Scheduler:     handler.NewSchedulerHandler(schedulerSvc),
	}, middleware.JWT(authSvc))

	// background work
	deliveryQueue.Start(ctx)
	defer deliveryQueue.Stop()
	reportSvc.RecoverUndelivered(ctx)

	if cfg.Scheduler.Enabled {
		engine.Start(ctx)
		defer engine.Stop()
	} else {
		logr.Warn("scheduler disabled; housekeeping tasks run only through /scheduler/poll")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("timezone", clk.Location().String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func markerStore(cfg *config.Config, db *sqlx.DB, client *redis.Client) (scheduler.MarkerStore, error) {
	switch cfg.Scheduler.MarkerStore {
	case config.MarkerStoreRedis:
		return repository.NewRedisTaskMarkerStore(client), nil
	case config.MarkerStorePostgres:
		return repository.NewTaskMarkerRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown marker store %q", cfg.Scheduler.MarkerStore)
	}
}

func fallbackPolicy(cfg config.TherapyConfig) (service.TherapyPolicy, error) {
	standard, err := clock.ParseTimeOfDay(cfg.RolloverStandard)
	if err != nil {
		return service.TherapyPolicy{}, fmt.Errorf("ROLLOVER_TIME_STANDARD: %w", err)
	}
	critical, err := clock.ParseTimeOfDay(cfg.RolloverCritical)
	if err != nil {
		return service.TherapyPolicy{}, fmt.Errorf("ROLLOVER_TIME_CRITICAL: %w", err)
	}
	return service.TherapyPolicy{RolloverStandard: standard, RolloverCritical: critical, DayLock: cfg.DayLock}, nil
}
