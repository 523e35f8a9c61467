package commands

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"
)

// draftKeyPrefix matches the keys written by the workshop draft store.
const draftKeyPrefix = "jobcard:draft:"

type DraftInfo struct {
	Owner     string
	Bytes     int
	UpdatedAt time.Time
}

// DraftTarget is the draft backend a command operates on.
type DraftTarget struct {
	Backend    string
	SQLitePath string
	MongoURL   string
	MongoName  string
}

func TargetFromConfig(config *aqm.Config) DraftTarget {
	return DraftTarget{
		Backend:    config.GetStringOrDef("drafts.backend", "sqlite"),
		SQLitePath: config.GetStringOrDef("drafts.sqlite.path", "workshop-drafts.db"),
		MongoURL:   config.GetStringOrDef("db.mongo.url", "mongodb://localhost:27017"),
		MongoName:  config.GetStringOrDef("db.mongo.name", "workshop"),
	}
}

// ListDrafts returns the stored drafts ordered by owner.
func ListDrafts(ctx context.Context, target DraftTarget, logger aqm.Logger) ([]DraftInfo, error) {
	var drafts []DraftInfo
	var err error
	switch target.Backend {
	case "sqlite":
		drafts, err = listSQLiteDrafts(ctx, target.SQLitePath)
	case "mongo":
		drafts, err = listMongoDrafts(ctx, target)
	default:
		return nil, fmt.Errorf("unsupported drafts backend %q", target.Backend)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].Owner < drafts[j].Owner })
	logger.Info("Listed drafts", "backend", target.Backend, "count", len(drafts))
	return drafts, nil
}

// ClearDrafts removes the draft of owner, or every draft when owner is empty.
func ClearDrafts(ctx context.Context, target DraftTarget, owner string, logger aqm.Logger) (int64, error) {
	var removed int64
	var err error
	switch target.Backend {
	case "sqlite":
		removed, err = clearSQLiteDrafts(ctx, target.SQLitePath, owner)
	case "mongo":
		removed, err = clearMongoDrafts(ctx, target, owner)
	default:
		return 0, fmt.Errorf("unsupported drafts backend %q", target.Backend)
	}
	if err != nil {
		return 0, err
	}
	logger.Info("Cleared drafts", "backend", target.Backend, "owner", owner, "count", removed)
	return removed, nil
}

func listSQLiteDrafts(ctx context.Context, path string) ([]DraftInfo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT key, length(value), updated_at FROM kv WHERE key LIKE ? ORDER BY key`,
		draftKeyPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var out []DraftInfo
	for rows.Next() {
		var (
			key       string
			size      int
			updatedMs int64
		)
		if err := rows.Scan(&key, &size, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, DraftInfo{
			Owner:     strings.TrimPrefix(key, draftKeyPrefix),
			Bytes:     size,
			UpdatedAt: time.UnixMilli(updatedMs),
		})
	}
	return out, rows.Err()
}

func clearSQLiteDrafts(ctx context.Context, path, owner string) (int64, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	var res sql.Result
	if owner != "" {
		res, err = db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, draftKeyPrefix+owner)
	} else {
		res, err = db.ExecContext(ctx, `DELETE FROM kv WHERE key LIKE ?`, draftKeyPrefix+"%")
	}
	if err != nil {
		return 0, fmt.Errorf("delete drafts: %w", err)
	}
	return res.RowsAffected()
}

func connectMongo(ctx context.Context, url string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

type mongoDraft struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func listMongoDrafts(ctx context.Context, target DraftTarget) ([]DraftInfo, error) {
	client, err := connectMongo(ctx, target.MongoURL)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(ctx)

	coll := client.Database(target.MongoName).Collection("drafts")
	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find drafts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoDraft
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode drafts: %w", err)
	}

	out := make([]DraftInfo, 0, len(docs))
	for _, doc := range docs {
		out = append(out, DraftInfo{
			Owner:     strings.TrimPrefix(doc.Key, draftKeyPrefix),
			Bytes:     len(doc.Value),
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return out, nil
}

func clearMongoDrafts(ctx context.Context, target DraftTarget, owner string) (int64, error) {
	client, err := connectMongo(ctx, target.MongoURL)
	if err != nil {
		return 0, err
	}
	defer client.Disconnect(ctx)

	filter := bson.M{}
	if owner != "" {
		filter = bson.M{"_id": draftKeyPrefix + owner}
	}
	res, err := client.Database(target.MongoName).Collection("drafts").DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete drafts: %w", err)
	}
	return res.DeletedCount, nil
}
