package worker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterlens/internal/clustering"
	"github.com/thebtf/clusterlens/internal/engine"
	"github.com/thebtf/clusterlens/pkg/models"
)

const tuningTip = "Try adjusting eps: lower (0.15-0.20) for more clusters, higher (0.30-0.40) for fewer clusters"

// imageView is the wire form of an item.
type imageView struct {
	ClusterID *int   `json:"cluster_id"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	ID        int64  `json:"id"`
}

func toImageView(item *models.Item) imageView {
	v := imageView{ID: item.ID, Filename: item.Name, ClusterID: item.ClusterLabel}
	if item.HasBlob() {
		v.URL = "/uploads/" + item.BlobKey
	}
	return v
}

func toImageViews(items []*models.Item) []imageView {
	out := make([]imageView, 0, len(items))
	for _, item := range items {
		out = append(out, toImageView(item))
	}
	return out
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "clusterlens - adaptive image clustering",
		"version": s.version,
		"endpoints": map[string]string{
			"POST /upload":               "Upload an image (multipart field \"file\")",
			"POST /items":                "Add an item with a precomputed embedding",
			"GET /cluster":               "Cluster images (params: eps, min_samples)",
			"GET /cluster/stats/{id}":    "Get cluster statistics",
			"GET /cluster/runs/latest":   "Get the last committed clustering run",
			"GET /download/cluster/{id}": "Download cluster as ZIP",
			"GET /images":                "Get all images",
			"DELETE /images/{id}":        "Delete one image",
			"DELETE /clear":              "Clear all data",
			"GET /events":                "Server-sent event stream",
			"GET /health":                "Health check",
			"GET /metrics":               "Prometheus metrics",
			"GET /uploads/{key}":         "Fetch an uploaded file",
		},
		"clustering_tips": map[string]string{
			"strict_separation": "Use eps=0.20 to separate dogs, cats, humans, cars",
			"moderate_grouping": "Use eps=0.25 for balanced clustering (default)",
			"loose_grouping":    "Use eps=0.35 for broader categories",
		},
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	count, err := s.engine.CountItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"items":          count,
	})
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"detail": fmt.Sprintf("upload exceeds %d MB", s.maxUpload>>20),
			})
			return
		}
		badRequest(w, "expected multipart form with a \"file\" field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing \"file\" field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "failed to read upload")
		return
	}

	item, err := s.engine.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}

	total, err := s.engine.CountItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Image uploaded successfully",
		"id":              item.ID,
		"filename":        item.Name,
		"url":             toImageView(item).URL,
		"total_images":    total,
		"embedding_shape": item.Embedding.Dimensions(),
	})
}

type ingestRequest struct {
	Filename  string    `json:"filename"`
	Embedding []float32 `json:"embedding"`
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxUpload)).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	item, err := s.engine.Ingest(r.Context(), req.Filename, req.Embedding)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toImageView(item))
}

func (s *Service) handleListImages(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.ListItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"images": toImageViews(items),
		"total":  len(items),
	})
}

func (s *Service) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid image id")
		return
	}
	item, err := s.engine.DeleteItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Image deleted",
		"id":       item.ID,
		"filename": item.Name,
	})
}

func (s *Service) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "All data cleared successfully"})
}

// clusterParams reads eps and min_samples, falling back to the engine defaults.
func (s *Service) clusterParams(r *http.Request) (clustering.Params, error) {
	p := s.engine.Defaults()
	q := r.URL.Query()
	if v := q.Get("eps"); v != "" {
		eps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("%w: eps must be a number", engine.ErrInvalidParams)
		}
		p.Eps = eps
	}
	if v := q.Get("min_samples"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("%w: min_samples must be an integer", engine.ErrInvalidParams)
		}
		p.MinSamples = n
	}
	return p, nil
}

func (s *Service) handleCluster(w http.ResponseWriter, r *http.Request) {
	p, err := s.clusterParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.engine.Recluster(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}

	clusters := make(map[string][]imageView, len(res.Groups))
	for _, g := range res.Groups {
		clusters[strconv.Itoa(g.Label)] = toImageViews(g.Items)
	}

	message := "Clustering completed successfully"
	if err := res.Err(); err != nil {
		message = "Need at least 2 images for clustering"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      message,
		"status":       res.Status,
		"run_id":       res.Run.ID,
		"clusters":     clusters,
		"num_clusters": len(res.Groups),
		"noise_images": toImageViews(res.Noise),
		"labels":       res.Labeling,
		"strategy":     res.Strategy,
		"parameters":   map[string]interface{}{"eps": p.Eps, "min_samples": p.MinSamples},
		"density": map[string]int{
			"clusters": res.Density.Clusters,
			"noise":    res.Density.Noise,
		},
		"tip": tuningTip,
	})
}

func parseLabel(r *http.Request) (int, error) {
	label, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, fmt.Errorf("%w: cluster id must be an integer", engine.ErrInvalidParams)
	}
	return label, nil
}

func (s *Service) handleClusterStats(w http.ResponseWriter, r *http.Request) {
	label, err := parseLabel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.engine.ClusterStats(r.Context(), label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cluster_id":         stats.Label,
		"num_images":         stats.Size,
		"avg_similarity":     round(stats.Score.AvgSimilarity, 3),
		"coherence":          stats.Score.Band,
		"similarity_percent": round(stats.Score.AvgSimilarity*100, 1),
	})
}

func (s *Service) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.LatestRun(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no clustering run yet"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Service) handleDownloadCluster(w http.ResponseWriter, r *http.Request) {
	label, err := parseLabel(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Buffer the archive so a failure can still be reported as JSON.
	var buf bytes.Buffer
	summary, err := s.engine.ExportCluster(r.Context(), label, &buf)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", summary.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		log.Debug().Err(err).Int("cluster", label).Msg("Client went away during download")
	}
}

func (s *Service) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rc, err := s.engine.OpenBlob(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Client went away during file transfer")
	}
}
