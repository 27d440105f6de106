package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smukkama/egg-grader/internal/aggregation"
)

// ErrNoSummary is returned when no matching daily summary exists.
var ErrNoSummary = errors.New("no daily summary")

const collectionName = "daily_summaries"

// Repository defines the daily summary archive.
type Repository interface {
	UpsertDailySummary(ctx context.Context, s aggregation.DailySummary) error
	GetDailySummary(ctx context.Context, deviceID, date string) (*aggregation.DailySummary, error)
}

var _ Repository = (*MongoDBRepository)(nil)

// MongoDBRepository implements Repository on MongoDB.
type MongoDBRepository struct {
	client   *mongo.Client
	dbName   string
	collName string
}

// NewMongoDBRepository connects, verifies the connection and ensures the
// (device_id, date) unique index.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string) (*MongoDBRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	r := &MongoDBRepository{
		client:   client,
		dbName:   dbName,
		collName: collectionName,
	}

	_, err = r.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "device_id", Value: 1}, {Key: "date", Value: -1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create daily summary index: %w", err)
	}

	return r, nil
}

func (r *MongoDBRepository) collection() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(r.collName)
}

// UpsertDailySummary replaces the summary for the same device and date.
func (r *MongoDBRepository) UpsertDailySummary(ctx context.Context, s aggregation.DailySummary) error {
	filter := bson.M{"device_id": s.DeviceID, "date": s.Date}
	_, err := r.collection().ReplaceOne(ctx, filter, s, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert daily summary: %w", err)
	}
	return nil
}

// GetDailySummary returns the summary of one device on one date.
func (r *MongoDBRepository) GetDailySummary(ctx context.Context, deviceID, date string) (*aggregation.DailySummary, error) {
	return r.findOne(ctx, bson.M{"device_id": deviceID, "date": date})
}

func (r *MongoDBRepository) findOne(ctx context.Context, filter bson.M) (*aggregation.DailySummary, error) {
	var s aggregation.DailySummary
	err := r.collection().FindOne(ctx, filter).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNoSummary
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find daily summary: %w", err)
	}
	return &s, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
