// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/store/conventions"
	"github.com/parcoursign/parcoursign/internal/app/store/missionorders"
	"github.com/parcoursign/parcoursign/internal/app/store/otpcodes"
)

// ConnectDB establishes the MongoDB connection and pings it before the
// rest of the lifecycle runs.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	opts := options.Client().
		ApplyURI(appCfg.MongoURI).
		SetMaxPoolSize(appCfg.MongoMaxPoolSize).
		SetMinPoolSize(appCfg.MongoMinPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		logger.Error("MongoDB connect failed", zap.Error(err))
		return DBDeps{}, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("MongoDB ping failed", zap.Error(err))
		_ = client.Disconnect(ctx)
		return DBDeps{}, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("MongoDB connected",
		zap.String("database", appCfg.MongoDatabase))

	return DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
	}, nil
}

// EnsureSchema creates the indexes the stores rely on. The conventions
// store in particular needs its status/email indexes before the guarded
// signature writes see any load.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if err := conventions.New(deps.MongoDatabase).EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("conventions indexes: %w", err)
	}
	if err := otpcodes.New(deps.MongoDatabase, appCfg.OtpExpiry).EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("otp code indexes: %w", err)
	}
	if err := missionorders.New(deps.MongoDatabase).EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("mission order indexes: %w", err)
	}
	logger.Info("database indexes ensured")
	return nil
}
