package core

import (
	"context"

	"github.com/JonMunkholm/wardrive/internal/schema"
)

// DatasetStore persists isolated datasets and their catalog.
//
// Implementations must validate every DatasetID before touching storage and
// return schema.ErrInvalidIdentifier when it does not match the allow-list.
// Operations on a well-formed id without a dataset return schema.ErrNotFound.
type DatasetStore interface {
	// CreateDataset allocates a new, empty dataset.
	CreateDataset(ctx context.Context) (schema.DatasetID, error)

	Insert(ctx context.Context, id schema.DatasetID, rec schema.AccessPointRecord) error

	// InsertBatch appends records preserving their order.
	InsertBatch(ctx context.Context, id schema.DatasetID, recs []schema.AccessPointRecord) error

	Exists(ctx context.Context, id schema.DatasetID) (bool, error)

	// FetchAll returns records ordered by first_seen, ties by insertion order.
	FetchAll(ctx context.Context, id schema.DatasetID) ([]schema.AccessPointRecord, error)

	Stats(ctx context.Context, id schema.DatasetID) (schema.Stats, error)

	// CommitCatalog records a finished ingestion. It is the last write of an
	// ingestion and makes the dataset visible in ListCatalog.
	CommitCatalog(ctx context.Context, entry schema.CatalogEntry) error

	// ListCatalog returns catalog entries, newest upload first.
	ListCatalog(ctx context.Context) ([]schema.CatalogEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
