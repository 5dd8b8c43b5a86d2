package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/wardrive/internal/core"
	"github.com/JonMunkholm/wardrive/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "wardrive.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func f(v float64) *float64 { return &v }

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateDataset(ctx)
	require.NoError(t, err)
	require.NoError(t, id.Validate())

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	recs := []schema.AccessPointRecord{
		{MACAddress: "b", FirstSeen: "2024-05-01 10:00:02", Latitude: 50.2, Longitude: 7.2, Altitude: f(90)},
		{MACAddress: "a", FirstSeen: "2024-05-01 10:00:00", Latitude: 50.1, Longitude: 7.1},
		{MACAddress: "c", FirstSeen: "2024-05-01 10:00:02", Latitude: 50.1, Longitude: 7.1, Accuracy: f(3)},
	}
	require.NoError(t, s.InsertBatch(ctx, id, recs[:2]))
	require.NoError(t, s.Insert(ctx, id, recs[2]))

	got, err := s.FetchAll(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 3)

	var macs []string
	for _, r := range got {
		macs = append(macs, r.MACAddress)
	}
	assert.Equal(t, []string{"a", "b", "c"}, macs, "first_seen order with insertion tie-break")
	assert.Nil(t, got[0].Altitude)
	require.NotNil(t, got[1].Altitude)
	assert.Equal(t, 90.0, *got[1].Altitude)
	require.NotNil(t, got[2].Accuracy)
	assert.Equal(t, 3.0, *got[2].Accuracy)

	st, err := s.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.Stats{TotalPoints: 3, UniqueLocations: 2, DuplicateLocations: 1, MaxPointsPerLocation: 2}, st)
}

func TestStore_EmptyDataset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateDataset(ctx)
	require.NoError(t, err)

	recs, err := s.FetchAll(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, recs)

	st, err := s.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.Stats{}, st)
}

func TestStore_StatsCountsExtraPoints(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateDataset(ctx)
	require.NoError(t, err)
	require.NoError(t, s.InsertBatch(ctx, id, []schema.AccessPointRecord{
		{MACAddress: "a", Latitude: 50.1, Longitude: 7.1},
		{MACAddress: "b", Latitude: 50.1, Longitude: 7.1},
		{MACAddress: "c", Latitude: 50.1, Longitude: 7.1},
		{MACAddress: "d", Latitude: 50.2, Longitude: 7.2},
	}))

	st, err := s.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.Stats{TotalPoints: 4, UniqueLocations: 2, DuplicateLocations: 2, MaxPointsPerLocation: 3}, st)
}

func TestStore_DatasetsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.CreateDataset(ctx)
	require.NoError(t, err)
	b, err := s.CreateDataset(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, s.Insert(ctx, a, schema.AccessPointRecord{MACAddress: "x", Latitude: 1, Longitude: 1}))

	got, err := s.FetchAll(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const missing = schema.DatasetID("wardrive_42")

	ok, err := s.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.FetchAll(ctx, missing)
	assert.ErrorIs(t, err, schema.ErrNotFound)
	_, err = s.Stats(ctx, missing)
	assert.ErrorIs(t, err, schema.ErrNotFound)
	err = s.InsertBatch(ctx, missing, []schema.AccessPointRecord{{MACAddress: "x"}})
	assert.ErrorIs(t, err, schema.ErrNotFound)
	err = s.CommitCatalog(ctx, schema.CatalogEntry{DatasetID: missing, Filename: "x.log", UploadTime: time.Now()})
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestStore_InvalidIdentifierRejectedBeforeQuery(t *testing.T) {
	ctx := context.Background()
	// A closed handle fails every query, so reaching storage would surface a
	// different error.
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	s := New(db)

	for _, raw := range []string{"drop table x", "wardrive_", "wardrive_1 OR 1=1", "catalog"} {
		id := schema.DatasetID(raw)

		_, err := s.Exists(ctx, id)
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier, raw)
		_, err = s.FetchAll(ctx, id)
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier, raw)
		_, err = s.Stats(ctx, id)
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier, raw)
		err = s.Insert(ctx, id, schema.AccessPointRecord{})
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier, raw)
		err = s.CommitCatalog(ctx, schema.CatalogEntry{DatasetID: id})
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier, raw)
	}
}

func TestStore_CatalogNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"first.log", "second.log", "third.log"} {
		id, err := s.CreateDataset(ctx)
		require.NoError(t, err)
		require.NoError(t, s.CommitCatalog(ctx, schema.CatalogEntry{
			DatasetID:  id,
			Filename:   name,
			UploadTime: base.Add(time.Duration(i) * time.Minute),
			Accepted:   i,
		}))
	}

	entries, err := s.ListCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "third.log", entries[0].Filename)
	assert.Equal(t, "first.log", entries[2].Filename)
	assert.True(t, entries[0].UploadTime.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, 2, entries[0].Accepted)
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate())
}

// TestIngestScenario runs a full upload through the service against SQLite.
func TestIngestScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := core.NewService(s, core.Options{BatchSize: 2})

	log := strings.Join([]string{
		"WigleWifi-1.4,appRelease=2.26,model=Pixel",
		"MAC,SSID,AuthMode,FirstSeen,Channel,RSSI,CurrentLatitude,CurrentLongitude,AltitudeMeters,AccuracyMeters,Type",
		"aa:aa,Home,[WPA2_PSK],2024-05-01 10:00:00,6,-60,50.1,7.1,100,5,WIFI",
		"bb:bb,,[OPEN],2024-05-01 10:00:01,1,-70,50.1,7.1,,,WIFI",
		"cc:cc,Cafe,[WEP],2024-05-01 10:00:02,11,-80,50.2,7.2,90,3,WIFI",
	}, "\n") + "\n"

	res, err := svc.Ingest(ctx, strings.NewReader(log), "drive.log")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Accepted)

	recs, err := svc.Records(ctx, string(res.DatasetID))
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	layout, err := svc.Markers(ctx, string(res.DatasetID), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, layout.Locations)
	require.Len(t, layout.Markers, 3)
	assert.NotEqual(t, layout.Markers[0].Position, layout.Markers[1].Position)

	st, err := svc.Stats(ctx, string(res.DatasetID))
	require.NoError(t, err)
	assert.Equal(t, schema.Stats{TotalPoints: 3, UniqueLocations: 2, DuplicateLocations: 1, MaxPointsPerLocation: 2}, st)

	catalog, err := svc.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, res.DatasetID, catalog[0].DatasetID)
	assert.Equal(t, "1.4", catalog[0].FormatVersion)
}
