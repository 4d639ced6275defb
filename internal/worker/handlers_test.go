package worker

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/clusterlens/internal/blob"
	"github.com/thebtf/clusterlens/internal/config"
	"github.com/thebtf/clusterlens/internal/db/gorm"
	"github.com/thebtf/clusterlens/internal/embedding"
	"github.com/thebtf/clusterlens/internal/engine"
	"github.com/thebtf/clusterlens/internal/metrics"
	"github.com/thebtf/clusterlens/internal/worker/sse"
)

// fakeImages maps file contents to the vector the extractor reports for them.
var fakeImages = map[string][]float32{
	"dog-1": {1, 0, 0},
	"dog-2": {0.99, 0.05, 0},
	"cat-1": {0, 1, 0},
	"cat-2": {0.05, 0.99, 0},
	"car-1": {0, 0, 1},
}

// testService creates a Service over a temporary SQLite store and upload dir.
func testService(t *testing.T) *Service {
	t.Helper()

	dir := t.TempDir()
	store, err := gorm.NewStore(gorm.Config{
		Path:     filepath.Join(dir, "test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	extractor := embedding.ExtractorFunc(func(_ context.Context, name string, data []byte) ([]float32, error) {
		vec, ok := fakeImages[string(data)]
		if !ok {
			return nil, fmt.Errorf("%w: cannot decode %s", embedding.ErrExtraction, name)
		}
		return vec, nil
	})

	broadcaster := sse.NewBroadcaster()
	t.Cleanup(broadcaster.Close)

	eng := engine.New(store, engine.Options{
		Blobs:          blobs,
		Extractor:      extractor,
		Metrics:        metrics.Noop(),
		Notifier:       broadcaster,
		ExportManifest: true,
	})

	svc := NewService("test-version", config.Default(), eng, broadcaster)
	svc.SetReady(true)
	return svc
}

func do(t *testing.T, svc *Service, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func uploadAll(t *testing.T, svc *Service, names ...string) {
	t.Helper()
	for _, name := range names {
		rec := do(t, svc, uploadRequest(t, name+".jpg", name))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestHandleRoot(t *testing.T) {
	svc := testService(t)

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "test-version", body["version"])
	assert.Contains(t, body["endpoints"], "POST /upload")
	assert.Contains(t, body["clustering_tips"], "moderate_grouping")
}

func TestHandleHealth_ServiceNotReady(t *testing.T) {
	svc := testService(t)
	svc.SetReady(false)

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth_ReturnsVersion(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1")

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.EqualValues(t, 1, body["items"])
}

func TestHandleUpload(t *testing.T) {
	svc := testService(t)

	rec := do(t, svc, uploadRequest(t, "dog.jpg", "dog-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "Image uploaded successfully", body["message"])
	assert.Equal(t, "dog.jpg", body["filename"])
	assert.EqualValues(t, 1, body["total_images"])
	assert.EqualValues(t, 3, body["embedding_shape"])

	url, ok := body["url"].(string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(url, "/uploads/"), url)

	file := do(t, svc, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, file.Code)
	assert.Equal(t, "dog-1", file.Body.String())
	assert.Equal(t, "image/jpeg", file.Header().Get("Content-Type"))
}

func TestHandleUpload_MissingFile(t *testing.T) {
	svc := testService(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := do(t, svc, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpload_NotMultipart(t *testing.T) {
	svc := testService(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "text/plain")

	rec := do(t, svc, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpload_ExtractionFailure(t *testing.T) {
	svc := testService(t)

	rec := do(t, svc, uploadRequest(t, "broken.jpg", "not an image"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["detail"], "broken.jpg")

	list := decode(t, do(t, svc, httptest.NewRequest(http.MethodGet, "/images", nil)))
	assert.EqualValues(t, 0, list["total"])
}

func TestHandleIngest(t *testing.T) {
	svc := testService(t)

	req := httptest.NewRequest(http.MethodPost, "/items",
		strings.NewReader(`{"filename":"vec","embedding":[0.5,0.5]}`))
	rec := do(t, svc, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "vec", body["filename"])
	assert.Equal(t, "", body["url"])
	assert.Nil(t, body["cluster_id"])
}

func TestHandleIngest_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{`, want: http.StatusBadRequest},
		{name: "empty embedding", body: `{"filename":"x","embedding":[]}`, want: http.StatusBadRequest},
		{name: "empty name", body: `{"filename":"","embedding":[1]}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testService(t)
			rec := do(t, svc, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleIngest_DimensionMismatch(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1")

	rec := do(t, svc, httptest.NewRequest(http.MethodPost, "/items",
		strings.NewReader(`{"filename":"short","embedding":[1,0]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCluster(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2", "cat-1", "cat-2", "car-1")

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "Clustering completed successfully", body["message"])
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "dbscan", body["strategy"])
	assert.EqualValues(t, 2, body["num_clusters"])
	assert.Equal(t, []interface{}{0.0, 0.0, 1.0, 1.0, -1.0}, body["labels"])
	assert.NotEmpty(t, body["run_id"])
	assert.Equal(t, tuningTip, body["tip"])

	clusters, ok := body["clusters"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, clusters["0"], 2)
	assert.Len(t, clusters["1"], 2)

	noise, ok := body["noise_images"].([]interface{})
	require.True(t, ok)
	require.Len(t, noise, 1)
	assert.Equal(t, "car-1.jpg", noise[0].(map[string]interface{})["filename"])

	params := body["parameters"].(map[string]interface{})
	assert.EqualValues(t, 2, params["min_samples"])
}

func TestHandleCluster_Parameters(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2")

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster?eps=0.3&min_samples=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	params := decode(t, rec)["parameters"].(map[string]interface{})
	assert.EqualValues(t, 0.3, params["eps"])
	assert.EqualValues(t, 2, params["min_samples"])
}

func TestHandleCluster_InvalidParameters(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2")

	for _, query := range []string{"eps=abc", "eps=-1", "eps=0", "min_samples=x", "min_samples=0"} {
		rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestHandleCluster_InsufficientItems(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1")

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "insufficient_items", body["status"])
	assert.Equal(t, "Need at least 2 images for clustering", body["message"])
	assert.EqualValues(t, 0, body["num_clusters"])
}

func TestHandleClusterStats(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2", "cat-1", "cat-2", "car-1")
	require.Equal(t, http.StatusOK, do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil)).Code)

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster/stats/0", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.EqualValues(t, 0, body["cluster_id"])
	assert.EqualValues(t, 2, body["num_images"])
	assert.Equal(t, "excellent", body["coherence"])
	assert.InDelta(t, 0.999, body["avg_similarity"], 0.002)
}

func TestHandleClusterStats_Errors(t *testing.T) {
	svc := testService(t)

	assert.Equal(t, http.StatusNotFound,
		do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster/stats/3", nil)).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster/stats/abc", nil)).Code)
}

func TestHandleLatestRun(t *testing.T) {
	svc := testService(t)

	assert.Equal(t, http.StatusNotFound,
		do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster/runs/latest", nil)).Code)

	uploadAll(t, svc, "dog-1", "dog-2")
	cluster := decode(t, do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil)))

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cluster["run_id"], decode(t, rec)["id"])
}

func TestHandleDownloadCluster(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2", "cat-1", "cat-2")
	require.Equal(t, http.StatusOK, do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil)).Code)

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/download/cluster/1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=group_2.zip", rec.Header().Get("Content-Disposition"))

	data := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"cat-1.jpg", "cat-2.jpg", engine.ManifestName}, names)
}

func TestHandleDownloadCluster_NotFound(t *testing.T) {
	svc := testService(t)

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/download/cluster/0", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandleListImages(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2", "cat-1", "cat-2", "car-1")
	require.Equal(t, http.StatusOK, do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil)).Code)

	body := decode(t, do(t, svc, httptest.NewRequest(http.MethodGet, "/images", nil)))
	assert.EqualValues(t, 5, body["total"])

	images := body["images"].([]interface{})
	require.Len(t, images, 5)
	first := images[0].(map[string]interface{})
	assert.Equal(t, "dog-1.jpg", first["filename"])
	assert.EqualValues(t, 0, first["cluster_id"])
	assert.EqualValues(t, 1, images[2].(map[string]interface{})["cluster_id"])
	assert.Nil(t, images[4].(map[string]interface{})["cluster_id"])
}

func TestHandleDeleteImage(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2")

	images := decode(t, do(t, svc, httptest.NewRequest(http.MethodGet, "/images", nil)))["images"].([]interface{})
	id := images[0].(map[string]interface{})["id"]
	url := images[0].(map[string]interface{})["url"].(string)

	rec := do(t, svc, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/images/%v", id), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, svc, httptest.NewRequest(http.MethodGet, url, nil)).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, svc, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/images/%v", id), nil)).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, svc, httptest.NewRequest(http.MethodDelete, "/images/abc", nil)).Code)
}

func TestHandleClear(t *testing.T) {
	svc := testService(t)
	uploadAll(t, svc, "dog-1", "dog-2")
	require.Equal(t, http.StatusOK, do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil)).Code)

	rec := do(t, svc, httptest.NewRequest(http.MethodDelete, "/clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "All data cleared successfully", decode(t, rec)["message"])

	body := decode(t, do(t, svc, httptest.NewRequest(http.MethodGet, "/images", nil)))
	assert.EqualValues(t, 0, body["total"])
	assert.Equal(t, http.StatusNotFound,
		do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster/stats/0", nil)).Code)
}

func TestHandleServeUpload_InvalidKey(t *testing.T) {
	svc := testService(t)

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/uploads/..", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, svc, httptest.NewRequest(http.MethodGet, "/uploads/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	svc := testService(t)

	rec := do(t, svc, httptest.NewRequest(http.MethodOptions, "/upload", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", engine.ErrInvalidParams), http.StatusBadRequest},
		{engine.ErrDimensionMismatch, http.StatusBadRequest},
		{engine.ErrClusterNotFound, http.StatusNotFound},
		{engine.ErrItemNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: boom", embedding.ErrExtraction), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{engine.ErrStorage, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.857, round(0.85714, 3))
	assert.Equal(t, 85.7, round(85.714, 1))
}

func TestMetricsEndpoint(t *testing.T) {
	exp, err := metrics.NewPrometheus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	store, err := gorm.NewStore(gorm.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	eng := engine.New(store, engine.Options{Metrics: exp.Recorder()})
	svc := NewService("test-version", config.Default(), eng, nil)
	svc.MountMetrics(exp.Handler())
	svc.SetReady(true)

	for _, body := range []string{`{"filename":"a","embedding":[1,0]}`, `{"filename":"b","embedding":[0.99,0.05]}`} {
		rec := do(t, svc, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(body)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	require.Equal(t, http.StatusOK, do(t, svc, httptest.NewRequest(http.MethodGet, "/cluster", nil)).Code)

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `outcome="ok"`)
	assert.Contains(t, rec.Body.String(), `strategy="kmeans"`)
}
