package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/wardrive/internal/geo"
	"github.com/JonMunkholm/wardrive/internal/schema"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 1000

// DefaultIngestTimeout bounds a single ingestion when none is configured.
const DefaultIngestTimeout = 10 * time.Minute

// Options tune ingestion and rendering.
type Options struct {
	BatchSize     int
	IngestTimeout time.Duration
	MaxConcurrent int
	MaxWait       time.Duration

	// RingRadius is the default marker ring radius in degrees.
	RingRadius float64
	// MaxRingRadius caps caller-supplied radius overrides.
	MaxRingRadius float64
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.IngestTimeout <= 0 {
		o.IngestTimeout = DefaultIngestTimeout
	}
	if o.RingRadius <= 0 {
		o.RingRadius = geo.DefaultRingRadius
	}
	if o.MaxRingRadius < o.RingRadius {
		o.MaxRingRadius = o.RingRadius * 50
	}
	return o
}

// Service is the entry point for ingesting and querying datasets. It is safe
// for concurrent use.
type Service struct {
	store   DatasetStore
	limiter *IngestLimiter
	opts    Options
}

// NewService wires a store with the given options.
func NewService(store DatasetStore, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:   store,
		limiter: NewIngestLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:    opts,
	}
}

// Limiter exposes the ingestion limiter for shutdown draining and health.
func (s *Service) Limiter() *IngestLimiter { return s.limiter }

// Records returns every record of a dataset in first_seen order.
func (s *Service) Records(ctx context.Context, rawID string) ([]schema.AccessPointRecord, error) {
	id, err := schema.ParseDatasetID(rawID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.FetchAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return recs, nil
}

// Stats returns duplicate-location statistics for a dataset.
func (s *Service) Stats(ctx context.Context, rawID string) (schema.Stats, error) {
	id, err := schema.ParseDatasetID(rawID)
	if err != nil {
		return schema.Stats{}, err
	}
	st, err := s.store.Stats(ctx, id)
	if err != nil {
		return schema.Stats{}, fmt.Errorf("stats %s: %w", id, err)
	}
	return st, nil
}

// Markers lays out a dataset for the map. A non-positive radius selects the
// configured default; larger values are clamped to the configured maximum.
func (s *Service) Markers(ctx context.Context, rawID string, radius float64) (geo.Layout, error) {
	recs, err := s.Records(ctx, rawID)
	if err != nil {
		return geo.Layout{}, err
	}
	return geo.BuildLayout(recs, s.clampRadius(radius)), nil
}

func (s *Service) clampRadius(radius float64) float64 {
	switch {
	case radius <= 0:
		return s.opts.RingRadius
	case radius > s.opts.MaxRingRadius:
		return s.opts.MaxRingRadius
	default:
		return radius
	}
}

// Catalog lists committed datasets, newest first.
func (s *Service) Catalog(ctx context.Context) ([]schema.CatalogEntry, error) {
	entries, err := s.store.ListCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return entries, nil
}

// Health pings the store.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("store ping failed", "error", err)
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, schema.ErrInvalidIdentifier) || errors.Is(err, schema.ErrNotFound)
}
