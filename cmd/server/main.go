// Package main runs the reservation HTTP server with WebSocket updates and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Csepi/cal3-sub003/config"
	"github.com/Csepi/cal3-sub003/internal/auth"
	"github.com/Csepi/cal3-sub003/internal/booking"
	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/export"
	"github.com/Csepi/cal3-sub003/internal/grants"
	"github.com/Csepi/cal3-sub003/internal/idempotency"
	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/internal/notify"
	"github.com/Csepi/cal3-sub003/internal/permissions"
	"github.com/Csepi/cal3-sub003/internal/realtime"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/database"
	"github.com/Csepi/cal3-sub003/pkg/metrics"
	"github.com/Csepi/cal3-sub003/pkg/queue"
	"github.com/Csepi/cal3-sub003/pkg/redis"
	"github.com/Csepi/cal3-sub003/pkg/response"
	"github.com/Csepi/cal3-sub003/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" && cfg.AWS.ExportsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			Endpoint:             cfg.AWS.S3Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	m := metrics.New()
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	defer redisPubSub.Close()
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Permissions
	dir := directory.NewRepository(pool)
	resolver := permissions.NewResolver(dir, logger, m)
	permissionHandler := permissions.NewHandler(resolver, logger)

	// Idempotency
	idemStore, err := idempotency.OpenStore(cfg.Idempotency.Backend, pool, rdb.Client)
	if err != nil {
		logger.Fatal("idempotency store", zap.Error(err))
	}
	guard := idempotency.NewGuard(idemStore, idempotency.Config{
		Retention:  cfg.Idempotency.Retention,
		StaleAfter: cfg.Idempotency.StaleAfter,
	}, logger, m)
	logger.Info("idempotency store", zap.String("backend", cfg.Idempotency.Backend))

	// Notifications: worker queue, websocket rooms and optionally RabbitMQ
	jobQueue := queue.NewQueue(rdb.Client, logger)
	publishers := notify.Fanout{notify.NewQueuePublisher(jobQueue), notify.NewHubPublisher(hub)}
	if cfg.RabbitMQ.URL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("rabbitmq disabled", zap.Error(err))
		} else {
			defer amqpPub.Close()
			publishers = append(publishers, amqpPub)
		}
	}
	dispatcher := notify.NewDispatcher(publishers, logger, m)

	// Bookings
	bookingSvc := booking.NewService(dir, resolver, booking.NewRepository(pool), guard, booking.Config{
		TxRetries:    cfg.Booking.TxRetries,
		RetryBackoff: cfg.Booking.RetryBackoff,
	}, logger, m)
	bookingHandler := booking.NewHandler(bookingSvc, dispatcher, logger)

	// Grants
	grantSvc := grants.NewService(dir, grants.NewRepository(pool), resolver, logger)
	grantHandler := grants.NewHandler(grantSvc, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	authorizeWatch := func(ctx context.Context, token string, resourceID uuid.UUID) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, realtime.ErrUnauthenticated
		}
		level, err := resolver.Resolve(ctx, claims.UserID, permissions.Resource(resourceID))
		if err != nil {
			return uuid.Nil, err
		}
		if !level.AtLeast(permissions.View) {
			return uuid.Nil, apperror.Forbidden("no access to resource").WithDetail("required", permissions.View.String())
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(m.Middleware())

	// Ops
	router.GET("/health", func(c *gin.Context) {
		if err := database.Healthy(c.Request.Context(), pool); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Error: err.Error()})
			return
		}
		if err := rdb.Healthy(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Error: err.Error()})
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Public booking (token in path; no JWT)
	public := router.Group("/public/booking")
	{
		public.GET("/:token/availability", bookingHandler.PublicAvailability)
		public.POST("/:token/reservations", bookingHandler.PublicCreate)
	}

	// Auth (public)
	router.POST("/auth/login", authHandler.Login)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		// Permissions
		api.GET("/me/organizations", permissionHandler.MyOrganizations)
		api.GET("/me/reservation-calendars", permissionHandler.MyReservationCalendars)
		api.GET("/access", permissionHandler.Access)

		// Reservations
		api.POST("/resources/:id/reservations", bookingHandler.Create)
		api.GET("/resources/:id/reservations", bookingHandler.List)
		api.GET("/resources/:id/availability", bookingHandler.Availability)
		api.GET("/reservations/:id", bookingHandler.Get)
		api.PATCH("/reservations/:id", bookingHandler.Update)
		api.POST("/reservations/:id/cancel", bookingHandler.Cancel)

		// Exports (S3-backed)
		if s3Client != nil {
			exportHandler := export.NewHandler(export.NewExporter(bookingSvc, s3Client, logger))
			api.GET("/resources/:id/reservations/export",
				resolver.RequireAccess(permissions.ParamTarget(permissions.TargetResource, "id"), permissions.View),
				exportHandler.Reservations)
		}

		// Grants
		api.POST("/organizations/:id/admins", grantHandler.GrantAdmin)
		api.DELETE("/organizations/:id/admins/:userId", grantHandler.RevokeAdmin)
		api.POST("/reservation-calendars/:id/roles", grantHandler.AssignRole)
		api.DELETE("/reservation-calendars/:id/roles/:userId", grantHandler.RemoveRole)
		api.POST("/reservation-calendars/:id/sync-admins", grantHandler.SyncAdmins)
		api.POST("/resources/:id/public-booking", grantHandler.EnablePublicBooking)
		api.DELETE("/resources/:id/public-booking", grantHandler.DisablePublicBooking)

		// Queue health (super admin only)
		api.GET("/ops/dead-letters", middleware.RequireRole(models.PlatformRoleSuperAdmin), func(c *gin.Context) {
			n, err := jobQueue.DeadLettered(c.Request.Context())
			if err != nil {
				response.Error(c, apperror.Internal(err))
				return
			}
			response.OK(c, gin.H{"dead_lettered": n})
		})
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, authorizeWatch))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// committed writes still owe their notifications
	dispatcher.Wait()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
