package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/wardrive/internal/core"
	"github.com/JonMunkholm/wardrive/internal/logging"
	"github.com/JonMunkholm/wardrive/internal/schema"
	"github.com/JonMunkholm/wardrive/internal/web/templates"
)

// UploadField is the multipart field carrying the log file.
const UploadField = "wardriveFile"

const healthTimeout = 2 * time.Second

// handleIndex renders the catalog page with the upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := s.service.Catalog(ctx)
	if err != nil {
		respondError(w, r, err)
		return
	}

	page := templates.CatalogPage{Entries: entries, MaxSize: s.cfg.Upload.MaxFileSize}
	if id, err := schema.ParseDatasetID(r.URL.Query().Get("uploaded")); err == nil {
		page.Uploaded = id.String()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Catalog(page).Render(ctx, w); err != nil {
		logging.FromContext(ctx).Error("render catalog", "error", err)
	}
}

// handleUpload streams the log to a temp file and ingests it. Browsers get
// a redirect back to the catalog, or a plain-text error; JSON clients get the
// IngestResult or an ErrorResponse.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.extendReadDeadline(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	path, filename, err := s.receiveUpload(r)
	if err != nil {
		respondUploadError(w, r, err)
		return
	}

	ctx := core.WithUploader(r.Context(), core.Uploader{IP: r.RemoteAddr, UserAgent: r.UserAgent()})

	// IngestFile removes the temp file on every path.
	result, err := s.service.IngestFile(ctx, path, filename)
	if err != nil {
		respondUploadError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSONStatus(w, http.StatusCreated, result)
		return
	}
	http.Redirect(w, r, "/?uploaded="+url.QueryEscape(result.DatasetID.String()), http.StatusSeeOther)
}

// extendReadDeadline gives the upload body UPLOAD_READ_TIMEOUT instead of
// the server-wide read timeout.
func (s *Server) extendReadDeadline(w http.ResponseWriter, r *http.Request) {
	d := s.cfg.Upload.ReadTimeout
	if d <= 0 {
		return
	}
	err := http.NewResponseController(w).SetReadDeadline(time.Now().Add(d))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.FromContext(r.Context()).Warn("extend upload read deadline", "error", err)
	}
}

// receiveUpload copies the UploadField part to a uuid-named file under the
// configured temp dir and returns its path and the client's file name.
func (s *Server) receiveUpload(r *http.Request) (string, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", errNoFile, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", "", errNoFile
		}
		if err != nil {
			return "", "", fmt.Errorf("read upload: %w", err)
		}
		if part.FormName() != UploadField {
			part.Close()
			continue
		}

		name := filepath.Base(part.FileName())
		if name == "." || name == "/" || part.FileName() == "" {
			part.Close()
			return "", "", errNoFile
		}
		if !strings.EqualFold(filepath.Ext(name), ".log") {
			part.Close()
			return "", "", fmt.Errorf("%w: %s", errUnsupportedType, name)
		}

		path, err := s.saveTemp(part)
		part.Close()
		if err != nil {
			return "", "", err
		}
		return path, name, nil
	}
}

func (s *Server) saveTemp(src io.Reader) (string, error) {
	dir := s.cfg.Upload.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "wardrive-"+uuid.NewString()+".log")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	_, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// handleData returns every record of a dataset with its GeoJSON geometry.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.Records(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, schema.Views(recs))
}

// handleStats returns duplicate-location statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Stats(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, st)
}

// handleMarkers returns the ring layout. ?radius= overrides the default
// ring radius in degrees, within the configured bound.
func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	var radius float64
	if raw := r.URL.Query().Get("radius"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			respondErrorStatus(w, r, fmt.Errorf("invalid radius %q", raw), http.StatusBadRequest)
			return
		}
		radius = v
	}

	layout, err := s.service.Markers(r.Context(), chi.URLParam(r, "datasetID"), radius)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, layout)
}

// handleCatalog lists committed datasets, newest first.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.Catalog(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []schema.CatalogEntry{}
	}
	writeJSON(w, entries)
}

type healthResponse struct {
	Status    string             `json:"status"`
	Database  string             `json:"database"`
	Ingestion core.LimiterStatus `json:"ingestion"`
}

// handleHealth reports store reachability and ingestion slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", Ingestion: s.service.Limiter().Status()}
	status := http.StatusOK
	if err := s.service.Health(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Database = core.MapError(err).Code
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, resp)
}
