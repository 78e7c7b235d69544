package main

import (
	"context"
	"net/http"
	"time"

	"roomsignal/internal/core/ports"
	"roomsignal/internal/core/services"
	httphandlers "roomsignal/internal/handlers/http"
	"roomsignal/internal/infrastructure/middleware"
	"roomsignal/internal/infrastructure/monitoring"
	"roomsignal/internal/infrastructure/signal"
	"roomsignal/pkg/config"
	"roomsignal/pkg/logger"
	"roomsignal/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// app holds the long-lived components the HTTP surface exposes.
type app struct {
	cfg        *config.Config
	startTime  time.Time
	instanceID string

	registry  *services.RoomRegistry
	wsServer  *signal.WebSocketServer
	directory ports.RoomDirectory
	auth      services.AuthService
	health    *monitoring.HealthChecker
	gatherer  prometheus.Gatherer

	log       *zap.SugaredLogger
	ctxLogger *logger.ContextLogger
}

func (a *app) routes() *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(a.log),
		middleware.RequestIDMiddleware(),
	)
	if a.cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(
		middleware.LoggingMiddleware(a.ctxLogger),
		middleware.ErrorHandlerMiddleware(a.log),
		middleware.CORSMiddleware(a.cfg.Signal.AllowedOrigins),
		middleware.NewHTTPRateLimitMiddleware(a.cfg),
	)

	router.GET("/health", a.handleHealth)
	router.GET("/ready", a.handleReady)
	if a.cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}

	authenticate := middleware.AuthMiddleware(a.auth, a.cfg.Auth.Required, a.log)
	router.GET(a.cfg.Signal.Path, authenticate, gin.WrapF(a.wsServer.HandleWebSocket))

	api := router.Group("/api/v1")
	api.Use(authenticate)
	httphandlers.NewRoomHandler(a.directory).SetupRoutes(api)
	api.GET("/connections", a.handleConnections)

	return router
}

func (a *app) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now(),
		"uptime":      utils.FormatDuration(time.Since(a.startTime)),
		"instance_id": a.instanceID,
		"connections": a.wsServer.ConnectionCount(),
		"rooms":       a.registry.Len(),
	})
}

func (a *app) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := a.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// handleConnections lists the sessions held by this instance.
func (a *app) handleConnections(c *gin.Context) {
	conns := a.wsServer.Connections()
	out := make([]gin.H, 0, len(conns))
	for _, conn := range conns {
		entry := gin.H{
			"id":           conn.ID,
			"state":        conn.State.String(),
			"connected_at": conn.ConnectedAt,
		}
		if conn.UserID != "" {
			entry["user_id"] = conn.UserID
		}
		if conn.RoomID != "" {
			entry["room_id"] = conn.RoomID
		}
		if !conn.LastSeen.IsZero() {
			entry["last_seen"] = conn.LastSeen
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"connections": out, "count": len(out)})
}
