// ==============================================
// pkg/database/mongodb.go
// ==============================================
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vidmatch/internal/config"
	"vidmatch/internal/store"
	"vidmatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	client    *mongo.Client
	database  *mongo.Database
	mongoOnce sync.Once
)

// CollectionSetup describes one collection of the mongo store backend
type CollectionSetup struct {
	Name    string
	Indexes []mongo.IndexModel
}

// InitMongoDB initializes the MongoDB connection
func InitMongoDB(cfg config.MongoConfig) error {
	var err error

	mongoOnce.Do(func() {
		client, database, err = Connect(cfg)
	})

	return err
}

// Connect dials MongoDB and verifies the connection
func Connect(cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	c, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err = c.Ping(ctx, readpref.Primary()); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.WithField("database", cfg.Database).Info("Connected to MongoDB")
	return c, c.Database(cfg.Database), nil
}

// GetDatabase returns the database instance
func GetDatabase() *mongo.Database {
	if database == nil {
		logger.Fatal("Database not initialized. Call InitMongoDB first.")
	}
	return database
}

// Disconnect closes the MongoDB connection
func Disconnect() error {
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	}
	return nil
}

// CollectionSetups lists the collections and indexes the mongo store needs
func CollectionSetups() []CollectionSetup {
	return []CollectionSetup{
		{
			Name: store.TablesCollection,
			Indexes: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "table", Value: 1}, {Key: "field", Value: 1}},
				},
			},
		},
		{
			Name: store.KVCollection,
			Indexes: []mongo.IndexModel{
				{
					// reclaims expired cooldowns, left-behind states and tombstones
					Keys:    bson.D{{Key: "expires_at", Value: 1}},
					Options: options.Index().SetExpireAfterSeconds(0),
				},
			},
		},
		{
			Name: store.CountersCollection,
		},
		{
			Name: store.QueuesCollection,
			Indexes: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "queue", Value: 1}, {Key: "score", Value: 1}, {Key: "member", Value: 1}},
				},
			},
		},
	}
}

// EnsureCollections creates missing collections and their indexes
func EnsureCollections(ctx context.Context, db *mongo.Database) error {
	for _, setup := range CollectionSetups() {
		if err := createCollectionWithIndexes(ctx, db, setup); err != nil {
			return fmt.Errorf("failed to set up collection %s: %w", setup.Name, err)
		}
	}
	return nil
}

func createCollectionWithIndexes(ctx context.Context, db *mongo.Database, setup CollectionSetup) error {
	existing, err := db.ListCollectionNames(ctx, bson.M{"name": setup.Name})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		if err := db.CreateCollection(ctx, setup.Name); err != nil {
			return err
		}
		logger.WithField("collection", setup.Name).Info("Created collection")
	}

	if len(setup.Indexes) > 0 {
		names, err := db.Collection(setup.Name).Indexes().CreateMany(ctx, setup.Indexes)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"collection": setup.Name,
			"indexes":    names,
		}).Info("Indexes ensured")
	}

	return nil
}
