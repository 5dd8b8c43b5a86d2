package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/wardrive/internal/config"
	"github.com/JonMunkholm/wardrive/internal/core"
	"github.com/JonMunkholm/wardrive/internal/geo"
	"github.com/JonMunkholm/wardrive/internal/schema"
	"github.com/JonMunkholm/wardrive/internal/storage/sqlite"
)

const testLog = "WigleWifi-1.4,appRelease=2.26\n" +
	"MAC,SSID,AuthMode,FirstSeen,Channel,RSSI,CurrentLatitude,CurrentLongitude,AltitudeMeters,AccuracyMeters,Type\n" +
	"aa:aa,Home,[WPA2_PSK],2024-05-01 10:00:00,6,-60,50.1,7.1,100,5,WIFI\n" +
	"bb:bb,,[OPEN],2024-05-01 10:00:01,1,-70,50.1,7.1,,,WIFI\n" +
	"cc:cc,Cafe,[WEP],2024-05-01 10:00:02,11,-80,50.2,7.2,90,3,WIFI\n" +
	"broken,line\n"

type testEnv struct {
	server  *Server
	store   *sqlite.Store
	tempDir string
}

func testConfig(tempDir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Upload: config.UploadConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			BatchSize:     2,
			Timeout:       time.Minute,
			TempDir:       tempDir,
		},
		Render: config.RenderConfig{RingRadius: geo.DefaultRingRadius, MaxRingRadius: 0.001},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	tempDir := t.TempDir()
	cfg := testConfig(tempDir)
	if mutate != nil {
		mutate(cfg)
	}
	svc := core.NewService(store, core.Options{
		BatchSize:     cfg.Upload.BatchSize,
		IngestTimeout: cfg.Upload.Timeout,
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxWait:       cfg.Upload.MaxWaitTime,
		RingRadius:    cfg.Render.RingRadius,
		MaxRingRadius: cfg.Render.MaxRingRadius,
	})
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testEnv{server: srv, store: store, tempDir: tempDir}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) upload(t *testing.T) schema.DatasetID {
	t.Helper()
	req := uploadRequest(t, UploadField, "drive.log", testLog)
	req.Header.Set("Accept", "application/json")
	rec := e.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res core.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.DatasetID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "upload artifacts left behind")
}

func TestUpload_JSON(t *testing.T) {
	env := newTestEnv(t, nil)

	req := uploadRequest(t, UploadField, "drive.log", testLog)
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res core.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NoError(t, res.DatasetID.Validate())
	assert.Equal(t, "drive.log", res.Filename)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, "1.4", res.FormatVersion)
	assertTempDirEmpty(t, env.tempDir)
}

func TestUpload_FormRedirects(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, UploadField, "drive.LOG", testLog))

	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	loc := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "/?uploaded=wardrive_"), loc)

	page := env.do(httptest.NewRequest(http.MethodGet, loc, nil))
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "Upload stored as")
	assert.Contains(t, page.Body.String(), "drive.LOG")
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		filename   string
		wantStatus int
		wantCode   string
	}{
		{"wrong extension", UploadField, "drive.csv", http.StatusBadRequest, "FILE002"},
		{"wrong field", "file", "drive.log", http.StatusBadRequest, "FILE003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := uploadRequest(t, tt.field, tt.filename, testLog)
			req.Header.Set("Accept", "application/json")
			rec := env.do(req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			assertTempDirEmpty(t, env.tempDir)

			cat := env.do(httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
			assert.JSONEq(t, "[]", cat.Body.String())
		})
	}
}

func TestUpload_FormErrorIsPlainText(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, UploadField, "drive.txt", testLog))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "Only .log files are accepted (Code: FILE002)")
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(testLog))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	rec := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE003", decodeError(t, rec).Code)
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Upload.MaxFileSize = 512 })

	big := testLog + strings.Repeat("ee:ee,Big,[OPEN],2024-05-01 10:00:09,1,-50,50.3,7.3,,,WIFI\n", 50)
	req := uploadRequest(t, UploadField, "big.log", big)
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decodeError(t, rec).Code)
	assertTempDirEmpty(t, env.tempDir)
}

func TestUpload_SlowBodyOutlivesServerReadTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Upload.ReadTimeout = 10 * time.Second })
	ts := httptest.NewUnstartedServer(env.server.Router())
	ts.Config.ReadTimeout = 200 * time.Millisecond
	ts.Start()
	t.Cleanup(ts.Close)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(UploadField, "slow.log")
	require.NoError(t, err)
	_, err = fw.Write([]byte(testLog))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	body := buf.Bytes()

	pr, pw := io.Pipe()
	go func() {
		half := len(body) / 2
		if _, err := pw.Write(body[:half]); err != nil {
			pw.CloseWithError(err)
			return
		}
		time.Sleep(600 * time.Millisecond)
		_, err := pw.Write(body[half:])
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/upload", pr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestData(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.upload(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/data/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var views []schema.RecordView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)
	assert.Equal(t, "aa:aa", views[0].MACAddress)
	assert.Equal(t, `{"type":"Point","coordinates":[7.1,50.1]}`, views[0].Geometry)
	assert.Nil(t, views[1].Altitude)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.upload(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/stats/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st schema.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, schema.Stats{TotalPoints: 3, UniqueLocations: 2, DuplicateLocations: 1, MaxPointsPerLocation: 2}, st)
}

func TestMarkers(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.upload(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/markers/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var layout geo.Layout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &layout))
	assert.Equal(t, 3, layout.Points)
	assert.Equal(t, 2, layout.Locations)
	assert.Equal(t, geo.DefaultRingRadius, layout.Radius)
	assert.Equal(t, int64(1), layout.Summary.DuplicateLocations)
	require.Len(t, layout.Markers, 3)
	assert.Equal(t, geo.UnnamedLabel, layout.Markers[1].Label)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/markers/"+id.String()+"?radius=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &layout))
	assert.Equal(t, 0.001, layout.Radius)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/markers/"+id.String()+"?radius=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ001", decodeError(t, rec).Code)
}

func TestDatasetRoutes_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		path       string
		wantStatus int
		wantCode   string
	}{
		{"/data/not_a_dataset", http.StatusBadRequest, "DS001"},
		{"/stats/wardrive_", http.StatusBadRequest, "DS001"},
		{"/markers/wardrive_1%3BDROP", http.StatusBadRequest, "DS001"},
		{"/data/wardrive_1", http.StatusNotFound, "DS002"},
		{"/stats/wardrive_1", http.StatusNotFound, "DS002"},
		{"/markers/wardrive_1", http.StatusNotFound, "DS002"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, strings.ToLower(body.Message), "select")
		})
	}
}

func TestStorageFailure_GenericMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.upload(t)
	require.NoError(t, env.store.Close())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/data/"+id.String(), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "ERR000", body.Code)
	assert.NotContains(t, rec.Body.String(), "sql")
}

func TestCatalog_NewestFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.upload(t)
	second := env.upload(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []schema.CatalogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].DatasetID)
	assert.Equal(t, first, entries[1].DatasetID)
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.upload(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), id.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Ingestion.MaxConcurrent)
	assert.Equal(t, 2, resp.Ingestion.Available)

	require.NoError(t, env.store.Close())
	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	})

	for i := 0; i < 2; i++ {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Health checks are never limited.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Security.AllowedOrigins = []string{"https://map.example.org"}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	req.Header.Set("Origin", "https://map.example.org")
	rec := env.do(req)
	assert.Equal(t, "https://map.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = env.do(req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
