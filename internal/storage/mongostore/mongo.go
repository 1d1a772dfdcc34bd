// Package mongostore is a MetricsStore on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/storage"
)

const (
	metricsCollection   = "tradeMetrics"
	liveCollection      = "liveMetrics"
	snapshotsCollection = "metricsSnapshots"
	liveID              = "live"
)

type metricsDoc struct {
	Key              string    `bson:"_id"`
	TotalTrades      int64     `bson:"totalTrades"`
	ProfitableTrades int64     `bson:"profitableTrades"`
	TotalProfit      float64   `bson:"totalProfit"`
	TotalHoldMinutes float64   `bson:"totalHoldMinutes"`
	UpdatedAt        time.Time `bson:"lastUpdated"`
}

type snapshotDoc struct {
	storage.Counters `bson:",inline"`
	TakenAt          time.Time `bson:"timestamp"`
}

// Store implements storage.MetricsStore.
type Store struct {
	client    *mongo.Client
	metrics   *mongo.Collection
	live      *mongo.Collection
	snapshots *mongo.Collection
	logger    *zap.Logger
	now       func() time.Time
}

// Connect dials uri and uses database.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return New(client, database, logger), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string, logger *zap.Logger) *Store {
	db := client.Database(database)
	return &Store{
		client:    client,
		metrics:   db.Collection(metricsCollection),
		live:      db.Collection(liveCollection),
		snapshots: db.Collection(snapshotsCollection),
		logger:    logger.Named("mongo"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func incrementUpdate(delta storage.Counters, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{"lastUpdated": now},
		"$inc": bson.M{
			"totalTrades":      delta.TotalTrades,
			"profitableTrades": delta.ProfitableTrades,
			"totalProfit":      delta.TotalProfit,
			"totalHoldMinutes": delta.TotalHoldMinutes,
		},
	}
}

func prefixFilter(prefix string) bson.M {
	if prefix == "" {
		return bson.M{}
	}
	return bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
}

func (s *Store) Increment(ctx context.Context, key string, delta storage.Counters) error {
	_, err := s.metrics.UpdateOne(ctx, bson.M{"_id": key}, incrementUpdate(delta, s.now()), options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: increment %s: %w", key, err)
	}
	return nil
}

func toRecord(d metricsDoc) storage.Record {
	return storage.Record{
		Key: d.Key,
		Counters: storage.Counters{
			TotalTrades:      d.TotalTrades,
			ProfitableTrades: d.ProfitableTrades,
			TotalProfit:      d.TotalProfit,
			TotalHoldMinutes: d.TotalHoldMinutes,
		},
		UpdatedAt: d.UpdatedAt,
	}
}

func (s *Store) Get(ctx context.Context, key string) (storage.Record, error) {
	var doc metricsDoc
	err := s.metrics.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("mongo: get %s: %w", key, err)
	}
	return toRecord(doc), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.Record, error) {
	cur, err := s.metrics.Find(ctx, prefixFilter(prefix), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: list %q: %w", prefix, err)
	}
	var docs []metricsDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode: %w", err)
	}
	out := make([]storage.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, toRecord(d))
	}
	return out, nil
}

func (s *Store) UpsertLive(ctx context.Context, live storage.LiveSnapshot) error {
	if live.UpdatedAt.IsZero() {
		live.UpdatedAt = s.now()
	}
	if live.Tokens == nil {
		live.Tokens = []string{}
	}
	_, err := s.live.UpdateOne(ctx,
		bson.M{"_id": liveID},
		bson.M{"$set": live},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert live: %w", err)
	}
	return nil
}

func (s *Store) Live(ctx context.Context) (storage.LiveSnapshot, error) {
	var live storage.LiveSnapshot
	err := s.live.FindOne(ctx, bson.M{"_id": liveID}).Decode(&live)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.LiveSnapshot{}, nil
	}
	if err != nil {
		return storage.LiveSnapshot{}, fmt.Errorf("mongo: live: %w", err)
	}
	return live, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, c storage.Counters) error {
	if _, err := s.snapshots.InsertOne(ctx, snapshotDoc{Counters: c, TakenAt: s.now()}); err != nil {
		return fmt.Errorf("mongo: save snapshot: %w", err)
	}
	return nil
}

func (s *Store) Snapshots(ctx context.Context, limit int) ([]storage.Snapshot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.snapshots.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: snapshots: %w", err)
	}
	var docs []snapshotDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode snapshots: %w", err)
	}
	out := make([]storage.Snapshot, 0, len(docs))
	for _, d := range docs {
		out = append(out, storage.Snapshot{Counters: d.Counters, Time: d.TakenAt})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
