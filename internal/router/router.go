package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/auth"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// brotliMinLength is the smallest response body worth compressing.
const brotliMinLength = 1024

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background housekeeping such as the rate limiter sweep.
func SetupRouter(
	ctx context.Context,
	verifier *auth.Verifier,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()

	// Request IDs come first so panics and every response carry one.
	router.Use(response.RequestIDMiddleware())
	router.Use(response.Recovery(log))

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(middleware.Brotli(brotliMinLength))

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. WebSocket Group (Student WS Auth) ──────────────────────────
	// Reconnect storms are throttled per IP before the token is checked.
	connectLimiter := middleware.NewRateLimiter(ctx, 20, time.Minute)
	ws := router.Group("/ws/v1")
	ws.Use(connectLimiter.Middleware())
	ws.Use(middleware.RequireStudentWSAuth(verifier))
	{
		ws.GET("/exams/:exam_id/session", handlers.Session.SessionStream)
	}

	// ─── 2. Proctor Group (Proctor JWT) ────────────────────────────────
	proctor := router.Group("/api/v1/proctor")
	proctor.Use(middleware.RequireProctorJWT(verifier))
	proctor.Use(middleware.NoStore())
	{
		proctor.GET("/exams/:exam_id/sessions", handlers.Monitor.ListSessions)
		proctor.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)
	}

	return router
}
