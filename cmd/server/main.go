package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vidmatch/internal/config"
	"vidmatch/internal/routes"
	"vidmatch/internal/store"
	"vidmatch/pkg/database"
	"vidmatch/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger.Init()
	defer logger.Close()

	// Load configuration
	cfg := config.Load()
	cfg.ApplyEnvironmentOverrides()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: " + err.Error())
	}

	// Initialize store
	st, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open store: " + err.Error())
	}
	defer closeStore()

	// Initialize Gin router
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	stop := make(chan struct{})
	routes.SetupRoutes(router, routes.NewServices(st, cfg), cfg, stop)

	srv := &http.Server{
		Addr:           net.JoinHostPort(cfg.Server.HTTP.Host, cfg.Server.HTTP.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.HTTP.ReadTimeout,
		WriteTimeout:   cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:    cfg.Server.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.Server.HTTP.MaxHeaderBytes,
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    srv.Addr,
			"backend": cfg.Store.Backend,
			"env":     cfg.App.Environment,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: " + err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown: " + err.Error())
	}
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMongo:
		if err := database.InitMongoDB(cfg.Store.MongoDB); err != nil {
			return nil, nil, err
		}
		db := database.GetDatabase()

		// Create indexes in the background, cmd/migrate does it up front
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.MongoDB.ConnectTimeout)
			defer cancel()
			if err := database.EnsureCollections(ctx, db); err != nil {
				logger.WithError(err).Warn("Failed to ensure MongoDB indexes")
			}
		}()

		closeFn := func() {
			if err := database.Disconnect(); err != nil {
				logger.WithError(err).Warn("MongoDB disconnect failed")
			}
		}
		return store.NewMongoStore(db, cfg.Store.KeyPrefix), closeFn, nil

	case config.BackendMemory:
		logger.Warn("Using in-memory store, state is lost on restart")
		return store.NewMemoryStore(), func() {}, nil

	default:
		if err := database.InitRedis(cfg.Store.Redis); err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := database.CloseRedis(); err != nil {
				logger.WithError(err).Warn("Redis close failed")
			}
		}
		return store.NewRedisStore(database.GetRedis(), cfg.Store.KeyPrefix), closeFn, nil
	}
}
