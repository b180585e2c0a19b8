package main

import (
	"context"
	"log"
	"time"

	"vidmatch/internal/config"
	"vidmatch/pkg/database"
	"vidmatch/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using environment variables")
	}

	logger.Init()
	cfg := config.Load()

	client, db, err := database.Connect(cfg.Store.MongoDB)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB: " + err.Error())
	}
	defer client.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Creating collections and indexes")
	if err := database.EnsureCollections(ctx, db); err != nil {
		logger.Fatal("Migration failed: " + err.Error())
	}

	logger.WithField("database", cfg.Store.MongoDB.Database).Info("Migration completed")
}
