package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/geoscrape/geoscrape/internal/model"
)

// Connection behavior constants.
const (
	// DefaultServerSelectionTimeout bounds how long the driver waits for a
	// reachable server before an operation fails. The default of 30 seconds
	// is far too long for a CLI tool; a missing database should surface in
	// seconds, not at the end of a coffee break.
	DefaultServerSelectionTimeout = 5 * time.Second

	// DefaultConnectTimeout bounds the initial connection attempt.
	DefaultConnectTimeout = 10 * time.Second

	// FieldScrapedAt is the document path of the scrape timestamp.
	// The TTL index expires documents on this field.
	FieldScrapedAt = "properties.scraped_at"

	// fieldSourceURL is the document path of the upsert key.
	fieldSourceURL = "properties.source_url"

	// ttlIndexName names the TTL index so repeat runs recognize it.
	ttlIndexName = "feature_ttl"
)

// Store is the MongoDB feature cache. Each country gets its own
// collection, so a country can be dropped, counted, or expired without
// touching the others.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for storage diagnostics.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open connects to MongoDB and verifies the server is reachable.
//
// Design decision: We ping during Open rather than letting the first
// operation fail because:
//  1. The driver connects lazily, so a bad URI would otherwise surface
//     mid-run after catalog pages were already fetched.
//  2. A scrape run is expensive (minutes of Tor round trips); failing
//     before the first request costs nothing.
func Open(ctx context.Context, uri, database string, opts ...StoreOption) (*Store, error) {
	if uri == "" {
		return nil, ErrEmptyURI
	}
	if database == "" {
		return nil, ErrEmptyDatabase
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(DefaultServerSelectionTimeout).
		SetConnectTimeout(DefaultConnectTimeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to reach mongodb: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(database),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}

// collection resolves a country to its collection handle.
func (s *Store) collection(country string) (*mongo.Collection, error) {
	name, err := collectionName(country)
	if err != nil {
		return nil, err
	}
	return s.db.Collection(name), nil
}

// collectionName derives the collection name for a country.
// "Costa Rica" becomes "costa_rica". MongoDB forbids "$" and NUL in
// collection names and treats "." as a namespace separator, so anything
// outside [a-z0-9] is folded into a single underscore.
func collectionName(country string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(country))

	var b strings.Builder
	underscore := false
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}

	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "", ErrEmptyCountry
	}
	return name, nil
}

// EnsureTTLIndex creates the expiry index on the given field for a
// country's collection. Documents whose field value is older than ttl
// are removed by the server. A non-positive ttl is a no-op; documents
// then never expire.
//
// Index creation is idempotent, so calling this before every run is
// safe. Changing the ttl of an existing deployment requires dropping
// the collection first; MongoDB rejects an index recreation with
// different options.
func (s *Store) EnsureTTLIndex(ctx context.Context, country, field string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	coll, err := s.collection(country)
	if err != nil {
		return err
	}

	index := mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
		Options: options.Index().
			SetName(ttlIndexName).
			SetExpireAfterSeconds(int32(ttl / time.Second)),
	}

	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create ttl index on %s: %w", field, err)
	}

	s.logger.Debug("ttl index ensured",
		slog.String("country", country),
		slog.Duration("ttl", ttl))

	return nil
}

// HasCollection reports whether a collection for the country exists.
// This is the historical cache-hit check; prefer HasFreshData, which
// also notices a collection whose documents have all expired.
func (s *Store) HasCollection(ctx context.Context, country string) (bool, error) {
	name, err := collectionName(country)
	if err != nil {
		return false, err
	}

	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	return len(names) > 0, nil
}

// HasFreshData reports whether the country has at least one feature
// scraped at or after the given time. A zero since accepts any feature.
func (s *Store) HasFreshData(ctx context.Context, country string, since time.Time) (bool, error) {
	coll, err := s.collection(country)
	if err != nil {
		return false, err
	}

	filter := bson.M{}
	if !since.IsZero() {
		filter = bson.M{FieldScrapedAt: bson.M{"$gte": since}}
	}

	count, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to count features: %w", err)
	}
	return count > 0, nil
}

// InsertFeature stores a feature without deduplication.
func (s *Store) InsertFeature(ctx context.Context, country string, feature *model.Feature) error {
	if feature == nil {
		return ErrNilFeature
	}

	coll, err := s.collection(country)
	if err != nil {
		return err
	}

	result, err := coll.InsertOne(ctx, feature)
	if err != nil {
		return fmt.Errorf("failed to insert feature: %w", err)
	}

	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		feature.ID = id
	}
	return nil
}

// UpsertFeature stores a feature keyed on its source URL, replacing any
// previous scrape of the same place. Re-scraping a country therefore
// refreshes documents instead of duplicating them.
func (s *Store) UpsertFeature(ctx context.Context, country string, feature *model.Feature) error {
	if feature == nil {
		return ErrNilFeature
	}
	if feature.Properties.SourceURL == "" {
		return ErrMissingSourceURL
	}

	coll, err := s.collection(country)
	if err != nil {
		return err
	}

	filter := bson.M{fieldSourceURL: feature.Properties.SourceURL}
	result, err := coll.ReplaceOne(ctx, filter, feature, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert feature: %w", err)
	}

	if id, ok := result.UpsertedID.(primitive.ObjectID); ok {
		feature.ID = id
	}
	return nil
}

// FindByCountry returns all cached features for a country, oldest scrape
// first. A country that was never scraped yields an empty slice.
func (s *Store) FindByCountry(ctx context.Context, country string) ([]*model.Feature, error) {
	coll, err := s.collection(country)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: FieldScrapedAt, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}

	var features []*model.Feature
	if err := cursor.All(ctx, &features); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	return features, nil
}

// CountByCountry returns the number of cached features for a country.
func (s *Store) CountByCountry(ctx context.Context, country string) (int64, error) {
	coll, err := s.collection(country)
	if err != nil {
		return 0, err
	}

	count, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return count, nil
}

// DropCountry removes a country's collection entirely, including its
// indexes. Used by forced re-scrapes so stale places do not survive
// next to fresh ones.
func (s *Store) DropCountry(ctx context.Context, country string) error {
	coll, err := s.collection(country)
	if err != nil {
		return err
	}

	if err := coll.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	s.logger.Debug("collection dropped", slog.String("country", country))
	return nil
}
