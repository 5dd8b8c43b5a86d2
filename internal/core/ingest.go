package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/wardrive/internal/logging"
	"github.com/JonMunkholm/wardrive/internal/schema"
)

// preambleLines is the number of leading lines dropped from every log. The
// first carries the exporter banner and the second the column header.
const preambleLines = 2

// IngestResult summarises a committed ingestion.
type IngestResult struct {
	DatasetID     schema.DatasetID `json:"dataset_id"`
	Filename      string           `json:"filename"`
	Accepted      int              `json:"accepted"`
	Malformed     int              `json:"malformed"`
	Skipped       int              `json:"skipped"`
	Lines         int              `json:"lines"`
	Bytes         int64            `json:"bytes"`
	FormatVersion string           `json:"format_version,omitempty"`
	Duration      time.Duration    `json:"duration_ns"`
}

// IngestionError reports an ingestion that stopped before its catalog entry
// was written. DatasetID is empty when allocation itself failed.
type IngestionError struct {
	DatasetID schema.DatasetID
	Filename  string
	Stage     string
	Err       error
}

func (e *IngestionError) Error() string {
	if e.DatasetID == "" {
		return fmt.Sprintf("ingest %s: %s: %v", e.Filename, e.Stage, e.Err)
	}
	return fmt.Sprintf("ingest %s into %s: %s: %v", e.Filename, e.DatasetID, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IngestFile ingests the upload stored at path and removes the file on every
// exit path.
func (s *Service) IngestFile(ctx context.Context, path, filename string) (IngestResult, error) {
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("remove upload artifact", "path", path, "error", rmErr)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return IngestResult{}, &IngestionError{Filename: filename, Stage: "open", Err: err}
	}
	defer f.Close()

	return s.Ingest(ctx, f, filename)
}

// Ingest parses r as a wardrive log and stores it as a new dataset. Line level
// problems are counted, not returned. Any storage or read failure aborts the
// run with an *IngestionError and no catalog entry is written.
func (s *Service) Ingest(ctx context.Context, r io.Reader, filename string) (IngestResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return IngestResult{}, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.opts.IngestTimeout)
	defer cancel()

	start := time.Now()
	fields := []any{"ingest_id", uuid.NewString(), "filename", filename}
	if u, ok := UploaderFromContext(ctx); ok {
		fields = append(fields, u.logFields()...)
	}
	log := logging.WithFields(ctx, fields...)

	id, err := s.store.CreateDataset(ctx)
	if err != nil {
		return IngestResult{}, &IngestionError{Filename: filename, Stage: "create dataset", Err: err}
	}
	log = log.With("dataset_id", id)
	log.Info("ingestion started")

	fail := func(stage string, err error) (IngestResult, error) {
		log.Error("ingestion failed", "stage", stage, "error", err)
		return IngestResult{}, &IngestionError{DatasetID: id, Filename: filename, Stage: stage, Err: err}
	}

	res := IngestResult{DatasetID: id, Filename: filename}
	batch := make([]schema.AccessPointRecord, 0, s.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.InsertBatch(ctx, id, batch); err != nil {
			return err
		}
		res.Accepted += len(batch)
		batch = batch[:0]
		return nil
	}

	lines := NewLineReader(r)
	for lines.Next() {
		if err := ctx.Err(); err != nil {
			return fail("read", err)
		}

		n := lines.LineNumber()
		if n <= preambleLines {
			if n == 1 {
				res.FormatVersion = s.inspectPreamble(log, lines.Text())
			}
			continue
		}

		if lines.Truncated() {
			res.Malformed++
			log.Debug("malformed line", "line", n, "reason", "line too long")
			continue
		}

		rec, pf := ParseLine(lines.Text())
		if pf != nil {
			switch pf.Kind {
			case Malformed:
				res.Malformed++
				log.Debug("malformed line", "line", n, "reason", pf.Reason)
			default:
				res.Skipped++
			}
			continue
		}

		batch = append(batch, rec)
		if len(batch) >= s.opts.BatchSize {
			if err := flush(); err != nil {
				return fail("insert", err)
			}
		}
	}
	if err := lines.Err(); err != nil {
		return fail("read", err)
	}
	if err := ctx.Err(); err != nil {
		return fail("read", err)
	}
	if err := flush(); err != nil {
		return fail("insert", err)
	}

	res.Lines = lines.LineNumber()
	res.Bytes = lines.BytesRead()

	entry := schema.CatalogEntry{
		DatasetID:     id,
		Filename:      filename,
		UploadTime:    time.Now().UTC(),
		FormatVersion: res.FormatVersion,
		Accepted:      res.Accepted,
		Malformed:     res.Malformed,
		Skipped:       res.Skipped,
	}
	if err := s.store.CommitCatalog(ctx, entry); err != nil {
		return fail("commit catalog", err)
	}

	res.Duration = time.Since(start)
	log.Info("ingestion complete",
		"accepted", res.Accepted,
		"malformed", res.Malformed,
		"skipped", res.Skipped,
		"bytes", res.Bytes,
		"duration", res.Duration,
	)
	return res, nil
}

func (s *Service) inspectPreamble(log *slog.Logger, line string) string {
	p, ok := ParsePreamble(line)
	if !ok {
		log.Debug("no format banner in first line")
		return ""
	}
	if !p.Supported() {
		log.Warn("unsupported log format version, ingesting anyway",
			"format", p.Format, "version", p.VersionString(), "supported", SupportedFormats.String())
	}
	return p.VersionString()
}
