package storage

import (
	"context"
	"sync"

	"github.com/geoscrape/geoscrape/internal/model"
)

// FeatureSink streams features into one country's collection. It
// satisfies the report.FeatureWriter interface, so the pipeline writes
// to MongoDB and to the GeoJSON file through the same fan-out.
type FeatureSink struct {
	store   *Store
	country string

	mu      sync.Mutex
	written int
}

// NewFeatureSink creates a sink writing into the given country's
// collection.
func NewFeatureSink(store *Store, country string) (*FeatureSink, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if _, err := collectionName(country); err != nil {
		return nil, err
	}

	return &FeatureSink{
		store:   store,
		country: country,
	}, nil
}

// WriteFeature upserts one feature. Safe for concurrent use; the
// driver serializes on its connection pool.
func (s *FeatureSink) WriteFeature(ctx context.Context, feature *model.Feature) error {
	if err := s.store.UpsertFeature(ctx, s.country, feature); err != nil {
		return err
	}

	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return nil
}

// Close is a no-op. The underlying Store is shared across sinks and is
// closed by whoever opened it.
func (s *FeatureSink) Close() error {
	return nil
}

// Written returns how many features the sink has stored.
func (s *FeatureSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
