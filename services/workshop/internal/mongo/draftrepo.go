package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	draftsCollection = "drafts"
	defaultMongoURL  = "mongodb://localhost:27017"
	defaultMongoName = "workshop"
)

type draftDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// DraftRepo stores draft payloads keyed by owner in the drafts collection.
// It owns its connection: Start before use, Stop on shutdown.
type DraftRepo struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger aqm.Logger
	config *aqm.Config
}

func NewDraftRepo(config *aqm.Config, logger aqm.Logger) *DraftRepo {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &DraftRepo{
		logger: logger.With("component", "mongo-drafts"),
		config: config,
	}
}

// Start connects using db.mongo.url and db.mongo.name and indexes drafts by
// last update so maintenance listings stay cheap.
func (r *DraftRepo) Start(ctx context.Context) error {
	connString, dbName := defaultMongoURL, defaultMongoName
	if r.config != nil {
		connString = r.config.GetStringOrDef("db.mongo.url", defaultMongoURL)
		dbName = r.config.GetStringOrDef("db.mongo.name", defaultMongoName)
	}

	clientOptions := options.Client().ApplyURI(connString).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	coll := client.Database(dbName).Collection(draftsCollection)
	index := mongo.IndexModel{Keys: bson.D{{Key: "updated_at", Value: -1}}}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		r.logger.Error("cannot index drafts", "error", err)
	}

	r.client = client
	r.coll = coll
	r.logger.Info("connected to MongoDB", "database", dbName, "collection", draftsCollection)
	return nil
}

func (r *DraftRepo) Stop(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
	}
	r.client, r.coll = nil, nil
	r.logger.Info("disconnected from MongoDB")
	return nil
}

func (r *DraftRepo) collection() (*mongo.Collection, error) {
	if r.coll == nil {
		return nil, errors.New("mongo draft repo not started")
	}
	return r.coll, nil
}

func (r *DraftRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	coll, err := r.collection()
	if err != nil {
		return nil, false, err
	}
	var doc draftDocument
	if err := coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cannot find draft %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (r *DraftRepo) Set(ctx context.Context, key string, value []byte) error {
	coll, err := r.collection()
	if err != nil {
		return err
	}
	doc := draftDocument{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	opts := options.Replace().SetUpsert(true)
	if _, err := coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return fmt.Errorf("cannot save draft %s: %w", key, err)
	}
	return nil
}

func (r *DraftRepo) Remove(ctx context.Context, key string) error {
	coll, err := r.collection()
	if err != nil {
		return err
	}
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("cannot delete draft %s: %w", key, err)
	}
	return nil
}
