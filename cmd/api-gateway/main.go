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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutor-booking-api/api/swagger"
	"github.com/noah-isme/tutor-booking-api/internal/availability"
	"github.com/noah-isme/tutor-booking-api/internal/handler"
	"github.com/noah-isme/tutor-booking-api/internal/middleware"
	"github.com/noah-isme/tutor-booking-api/internal/repository"
	"github.com/noah-isme/tutor-booking-api/internal/service"
	"github.com/noah-isme/tutor-booking-api/pkg/cache"
	"github.com/noah-isme/tutor-booking-api/pkg/config"
	"github.com/noah-isme/tutor-booking-api/pkg/database"
	"github.com/noah-isme/tutor-booking-api/pkg/events"
	"github.com/noah-isme/tutor-booking-api/pkg/jobs"
	"github.com/noah-isme/tutor-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutor-booking-api/pkg/middleware/cors"
	"github.com/noah-isme/tutor-booking-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/tutor-booking-api/pkg/middleware/requestid"
)

// @title Tutor Booking API
// @version 1.0.0
// @description Teacher availability and booking conflict resolution engine
// @BasePath /api/v1
// @schemes http
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database unavailable", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.SlotCache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, slot cache disabled", "error", err)
		}
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	bookingRepo := repository.NewBookingRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "tutor-booking", logr)
	defer cacheRepo.Close() //nolint:errcheck

	slotCache := service.NewCacheService(cacheRepo, metricsSvc, cfg.SlotCache.TTL, logr, redisClient != nil)
	ledger := availability.NewLedger(bookingRepo, availabilityRepo, availability.Config{
		EnforceAvailability: cfg.Booking.EnforceAvailability,
	}, logr)

	publisher := newPublisher(cfg.Events, logr)
	defer publisher.Close() //nolint:errcheck
	dispatcher := service.NewEventDispatcher(publisher, metricsSvc, logr)
	eventQueue := jobs.NewQueue("booking-events", dispatcher.Handle, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: 500 * time.Millisecond,
		OnGiveUp:   dispatcher.GiveUp,
		Logger:     logr,
	})
	dispatcher.AttachQueue(eventQueue)
	// The queue outlives the signal context and stops only after the server has drained.
	eventQueue.Start(context.Background())

	bookingSvc := service.NewBookingService(bookingRepo, teacherRepo, subjectRepo, ledger, dispatcher, slotCache, metricsSvc, validate, logr, service.BookingServiceConfig{
		AutoConfirm:    cfg.Booking.AutoConfirm,
		RecurringWeeks: cfg.Booking.RecurringWeeks,
		Location:       cfg.Booking.Location(),
	})
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, teacherRepo, ledger, slotCache, validate, logr, service.AvailabilityServiceConfig{
		MaxWindowDays: cfg.Booking.MaxWindowDays,
		CacheTTL:      cfg.SlotCache.TTL,
	})
	directorySvc := service.NewDirectoryService(teacherRepo, subjectRepo, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	bookingSvc.StartCompletionSweeper(ctx, cfg.Booking.SweepInterval)

	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logr)
	go sweepVisitors(ctx, limiter)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc, "/metrics", "/health", "/ready"))

	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Bookings:     handler.NewBookingHandler(bookingSvc),
		Availability: handler.NewAvailabilityHandler(availabilitySvc),
		Directory:    handler.NewDirectoryHandler(directorySvc),
		Metrics:      metricsHandler,
		Tokens:       tokenSvc,
		WriteLimit:   limiter.Middleware(),
		AuditLogger:  logr.Named("audit"),
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
	eventQueue.Stop()
}

func newPublisher(cfg config.EventsConfig, logr *zap.Logger) events.Publisher {
	if len(cfg.Brokers) == 0 {
		return events.NewLogPublisher(logr)
	}
	publisher, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, logr)
	if err != nil {
		logr.Sugar().Warnw("kafka publisher unavailable, logging events instead", "error", err)
		return events.NewLogPublisher(logr)
	}
	return publisher
}

func sweepVisitors(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
