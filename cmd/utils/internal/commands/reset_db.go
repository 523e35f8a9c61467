package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
)

// ResetDB drops the workshop draft storage - USE WITH CAUTION
func ResetDB(ctx context.Context, target DraftTarget, logger aqm.Logger) error {
	logger.Infof("DANGER: This will drop all workshop draft storage (%s)!", target.Backend)
	logger.Infof("This action cannot be undone!")

	switch target.Backend {
	case "sqlite":
		if err := os.Remove(target.SQLitePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove sqlite file: %w", err)
		}
		logger.Info("SQLite draft file removed", "path", target.SQLitePath)
		return nil

	case "mongo":
		client, err := connectMongo(ctx, target.MongoURL)
		if err != nil {
			return err
		}
		defer client.Disconnect(ctx)

		logger.Info("Connected to MongoDB")

		result := client.Database(target.MongoName).RunCommand(ctx, bson.D{{Key: "dropDatabase", Value: 1}})
		if result.Err() != nil {
			return fmt.Errorf("drop database %s: %w", target.MongoName, result.Err())
		}
		logger.Info("Database dropped", "database", target.MongoName)
		return nil

	default:
		return fmt.Errorf("unsupported drafts backend %q", target.Backend)
	}
}
