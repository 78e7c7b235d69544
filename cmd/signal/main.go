package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/internal/core/services"
	"roomsignal/internal/infrastructure/distributed"
	"roomsignal/internal/infrastructure/monitoring"
	"roomsignal/internal/infrastructure/reliability"
	"roomsignal/internal/infrastructure/repositories"
	"roomsignal/internal/infrastructure/signal"
	"roomsignal/pkg/circuitbreaker"
	"roomsignal/pkg/config"
	"roomsignal/pkg/logger"
	"roomsignal/pkg/retry"
	"roomsignal/pkg/tracing"
	"roomsignal/pkg/utils"
	"roomsignal/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func loadConfig() (*config.Config, string, error) {
	configPaths := []string{
		os.Getenv("ROOMSIGNAL_CONFIG"),
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/roomsignal/config.yaml",
		"config.yaml",
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	// no file: defaults plus environment overrides
	cfg, err := config.Load("")
	return cfg, "", err
}

func main() {
	startTime := time.Now()
	cfg, configPath, err := loadConfig()
	if err != nil {
		logger.New("info").Sugar().Fatalw("failed to load configuration", "path", configPath, "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if configPath != "" {
		log.Infow("loaded config", "path", configPath)
	} else {
		log.Info("no config file found, using defaults and environment")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "roomsignal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	instanceID := cfg.Directory.InstanceID
	if instanceID == "" {
		instanceID = utils.GenerateInstanceID()
	}
	log = log.With("instance_id", instanceID)

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Directory.RetryAttempts
	retryCfg.InitialDelay = cfg.Directory.RetryInitialDelay
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.Directory.BreakerMaxFailures
	breakerCfg.Timeout = cfg.Directory.BreakerResetTimeout
	guarded := reliability.NewDirectoryWrapper(repoFactory.CreateRoomDirectory(), retryCfg, breakerCfg, log)

	var directory ports.RoomDirectory = guarded
	if cfg.Directory.CacheTTL > 0 {
		cached := services.NewCachedDirectory(guarded, cfg.Directory.CacheTTL)
		defer cached.Close()
		directory = cached
	}

	var publisher ports.RoomEventPublisher
	if cfg.Directory.EventBus {
		if repoFactory.UsesRedis() {
			publisher = distributed.NewEventBus(repoFactory.RedisClient(), instanceID, log)
			log.Infow("publishing room events", "channel", distributed.DefaultChannel)
		} else {
			log.Warn("directory.event_bus requires Redis, room events will not be published")
		}
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	mirror := services.NewDirectoryMirror(directory, publisher, instanceID, cfg.Directory.QueueSize, log)
	mirror.OnDrop(collector.RecordMirrorDrop)

	table := signal.NewConnectionTable()
	registry := services.NewRoomRegistry(table,
		services.WithMaxMembers(cfg.Signal.MaxRoomMembers),
		services.WithRoomObserver(collector),
		services.WithRoomObserver(mirror),
		services.WithRegistryLogger(log),
	)
	router := services.NewMessageRouter(registry, table, log,
		services.WithTargetCheck(validation.ValidateConnectionID))
	presence := services.NewPresenceTracker(cfg.Signal.HeartbeatInterval)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	serverCfg := signal.ServerConfig{
		HeartbeatInterval: cfg.Signal.HeartbeatInterval,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageBytes:   cfg.Signal.MaxMessageBytes,
		SendBuffer:        cfg.Signal.SendBuffer,
		AllowedOrigins:    cfg.Signal.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		serverCfg.MaxConnections = cfg.RateLimiting.WebSocket.MaxConcurrent
		serverCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		serverCfg.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := signal.NewWebSocketServer(serverCfg, registry, router, presence, table,
		signal.WithMetrics(collector),
		signal.WithLogger(log),
		signal.WithIdentity(identityFromContext(authService)),
	)

	health := monitoring.NewHealthChecker()
	health.AddDirectoryCheck(directory, 2*time.Second)
	health.AddCheck("directory_breaker", func(ctx context.Context) error {
		if guarded.Breaker().State() == circuitbreaker.StateOpen {
			return circuitbreaker.ErrOpen
		}
		return nil
	}, 0)
	if repoFactory.UsesRedis() {
		health.AddCheck("redis", repoFactory.HealthCheck, 2*time.Second)
	}

	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	mirrorDone := make(chan struct{})
	go func() {
		defer close(mirrorDone)
		mirror.Run(mirrorCtx, 5*time.Second)
	}()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	a := &app{
		cfg:        cfg,
		startTime:  startTime,
		instanceID: instanceID,
		registry:   registry,
		wsServer:   wsServer,
		directory:  directory,
		auth:       authService,
		health:     health,
		gatherer:   prometheus.DefaultGatherer,
		log:        log,
		ctxLogger:  logger.NewContextLogger(zapLogger),
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      a.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting roomsignal server",
			"address", cfg.Server.Address,
			"signal_path", cfg.Signal.Path,
			"heartbeat_interval", cfg.Signal.HeartbeatInterval,
			"max_room_members", cfg.Signal.MaxRoomMembers,
			"directory", directoryBackend(repoFactory),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := wsServer.Shutdown(ctx); err != nil {
		log.Warnw("signaling shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("http shutdown incomplete", "error", err)
	}

	stopMirror()
	<-mirrorDone
	if dropped := mirror.Dropped(); dropped > 0 {
		log.Warnw("directory mirror dropped events", "dropped", dropped)
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Warnw("tracer shutdown failed", "error", err)
	}
	log.Info("server stopped")
}

// identityFromContext reads the user the auth middleware placed on the
// request. Anonymous connections are allowed when auth is optional; the
// middleware has already rejected them otherwise.
func identityFromContext(auth services.AuthService) signal.IdentityFunc {
	return func(r *http.Request) (domain.UserID, error) {
		user, err := auth.GetUserFromContext(r.Context())
		if errors.Is(err, services.ErrUnauthorized) {
			return "", nil
		}
		return user, err
	}
}

func directoryBackend(f *repositories.RepositoryFactory) string {
	if f.UsesRedis() {
		return "redis"
	}
	return "memory"
}
