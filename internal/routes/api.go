package routes

import (
	"vidmatch/internal/config"
	"vidmatch/internal/handlers"
	"vidmatch/internal/middleware"
	"vidmatch/internal/services"
	"vidmatch/internal/store"

	"github.com/gin-gonic/gin"
)

// Services bundles everything the route table wires into handlers
type Services struct {
	Store      store.Store
	Queue      *services.QueueService
	Matching   *services.MatchingService
	Lifecycle  *services.LifecycleService
	SkipStats  *services.SkipStatsService
	Backend    string
	AppVersion string
}

// NewServices builds the service graph over one store
func NewServices(st store.Store, cfg *config.Config) *Services {
	queue := services.NewQueueService(st)
	cooldowns := services.NewCooldownService(st)
	matches := services.NewActiveMatches(st)
	stats := services.NewSkipStatsService(st, cfg.Matching.Stats.MaxPlausibleDuration)
	leftBehind := services.NewLeftBehindService(st, cfg.Matching.LeftBehindTTL, cfg.Matching.LeftBehindProcessedTTL)
	matching := services.NewMatchingService(queue, cooldowns, matches, cfg.Matching.ScanPageSize)

	lifecycle := services.NewLifecycleService(services.LifecycleDeps{
		Store:      st,
		Queue:      queue,
		Matching:   matching,
		Matches:    matches,
		Cooldowns:  cooldowns,
		Stats:      stats,
		LeftBehind: leftBehind,
	}, cfg.Matching)

	return &Services{
		Store:      st,
		Queue:      queue,
		Matching:   matching,
		Lifecycle:  lifecycle,
		SkipStats:  stats,
		Backend:    cfg.Store.Backend,
		AppVersion: cfg.App.Version,
	}
}

func SetupRoutes(router *gin.Engine, svc *Services, cfg *config.Config, stop <-chan struct{}) {
	queueHandler := handlers.NewQueueHandler(svc.Queue, svc.Matching)
	sessionHandler := handlers.NewSessionHandler(svc.Lifecycle, svc.SkipStats)
	healthHandler := handlers.NewHealthHandler(svc.Store, svc.Queue, svc.Backend, svc.AppVersion)

	// Global middleware
	router.Use(middleware.CORS(cfg.Server.CORS))
	router.Use(middleware.Logger())

	// Health check
	router.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitFromConfig(cfg.Server.RateLimit, stop))
	v1.Use(middleware.OperationTimeout(cfg.Store.OperationLimit))
	{
		v1.GET("/health", healthHandler.Health)

		// Waiting queue
		queue := v1.Group("/queue")
		{
			queue.POST("", queueHandler.Enqueue)
			queue.DELETE("/:username", queueHandler.Dequeue)
		}

		v1.POST("/match", queueHandler.RequestMatch)

		// Session lifecycle
		session := v1.Group("/session")
		{
			session.POST("/disconnect", sessionHandler.ReportDisconnect)
			session.POST("/skip", sessionHandler.ReportSkip)
			session.POST("/end", sessionHandler.ReportSessionEnd)
			session.POST("/rematch", sessionHandler.ConfirmRematch)
		}

		v1.GET("/stats/:username", sessionHandler.GetSkipStats)
		v1.GET("/left-behind/:username", sessionHandler.GetLeftBehind)
	}
}
