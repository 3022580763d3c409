package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/lumenapm/lumen/internal/bundle"
	"github.com/lumenapm/lumen/internal/index"
	"github.com/lumenapm/lumen/internal/observability"
	"github.com/lumenapm/lumen/pkg/types"
)

// UploadResponse represents the bundle upload response.
type UploadResponse struct {
	BundleID      string `json:"bundle_id"`
	ArtifactCount int64  `json:"artifact_count"`
	RequestID     string `json:"request_id"`
}

// UploadHandler handles POST /v1/bundles requests. The request body is the
// raw bundle zip; org, projects, release, and dist arrive as query
// parameters.
type UploadHandler struct {
	indexer       *index.Indexer
	maxUploadSize int64
}

// NewUploadHandler creates a bundle upload handler. maxUploadSize caps the
// request body in bytes.
func NewUploadHandler(indexer *index.Indexer, maxUploadSize int64) *UploadHandler {
	return &UploadHandler{indexer: indexer, maxUploadSize: maxUploadSize}
}

// ServeHTTP handles the upload HTTP request.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	orgID, err := parseInt64Param(r, "org_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}
	projectIDs, err := parseInt64ListParam(r, "project_ids")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}
	if len(projectIDs) == 0 {
		writeError(w, http.StatusBadRequest, "project_ids is required", requestID)
		return
	}
	release := r.URL.Query().Get("release")
	dist := r.URL.Query().Get("dist")
	if dist != "" && release == "" {
		writeError(w, http.StatusBadRequest, "dist requires release", requestID)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	record, err := h.indexer.RegisterBundle(r.Context(), orgID, projectIDs, release, dist, body)
	if err != nil {
		writeLumenError(w, err, requestID)
		return
	}

	if err := h.indexer.IndexBundle(r.Context(), record.ID, release, dist); err != nil {
		writeLumenError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		BundleID:      record.ID,
		ArtifactCount: record.ArtifactCount,
		RequestID:     requestID,
	})
}

// ArtifactHandler handles GET /v1/artifacts requests, resolving a file by
// debug-id or by URL and streaming its content. Manifest headers are
// returned as X-Artifact-* response headers.
type ArtifactHandler struct {
	lookup *index.Lookup
}

// NewArtifactHandler creates an artifact lookup handler.
func NewArtifactHandler(lookup *index.Lookup) *ArtifactHandler {
	return &ArtifactHandler{lookup: lookup}
}

// ServeHTTP handles the artifact lookup HTTP request.
func (h *ArtifactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	orgID, err := parseInt64Param(r, "org_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	var res *index.Result
	switch {
	case r.URL.Query().Get("debug_id") != "":
		projectID, err := parseInt64Param(r, "project_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), requestID)
			return
		}
		fileType, ok := types.SourceFileTypeFromKey(r.URL.Query().Get("file_type"))
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown file_type", requestID)
			return
		}
		res, err = h.lookup.FindByDebugID(r.Context(), orgID, projectID, r.URL.Query().Get("debug_id"), fileType)
		if err != nil {
			writeLumenError(w, err, requestID)
			return
		}
	case r.URL.Query().Get("url") != "":
		res, err = h.lookup.FindByURL(r.Context(), orgID, r.URL.Query().Get("url"))
		if err != nil {
			writeLumenError(w, err, requestID)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "debug_id or url is required", requestID)
		return
	}
	defer res.Content.Close()

	for k, v := range res.Headers {
		w.Header().Set("X-Artifact-"+k, v)
	}
	w.Header().Set("X-Bundle-ID", res.Bundle.ID)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, res.Content)
}

// BundleEntry is one manifest entry in a search response.
type BundleEntry struct {
	Path    string            `json:"path"`
	URL     string            `json:"url"`
	Type    string            `json:"type"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SearchResponse represents the bundle search response.
type SearchResponse struct {
	BundleID  string        `json:"bundle_id"`
	Entries   []BundleEntry `json:"entries"`
	RequestID string        `json:"request_id"`
}

// SearchHandler handles GET /v1/bundles/search requests: free-text search
// over a bundle's manifest URLs and debug-ids.
type SearchHandler struct {
	lookup *index.Lookup
}

// NewSearchHandler creates a bundle search handler.
func NewSearchHandler(lookup *index.Lookup) *SearchHandler {
	return &SearchHandler{lookup: lookup}
}

// ServeHTTP handles the search HTTP request.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	bundleID := r.URL.Query().Get("bundle_id")
	if bundleID == "" {
		writeError(w, http.StatusBadRequest, "bundle_id is required", requestID)
		return
	}

	matches, err := h.lookup.SearchBundle(r.Context(), bundleID, r.URL.Query().Get("q"))
	if err != nil {
		writeLumenError(w, err, requestID)
		return
	}

	entries := make([]BundleEntry, 0, len(matches))
	for path, entry := range matches {
		entries = append(entries, BundleEntry{
			Path:    path,
			URL:     entry.URL,
			Type:    entry.Type,
			Headers: bundle.NormalizeHeaders(entry.Headers),
		})
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		BundleID:  bundleID,
		Entries:   entries,
		RequestID: requestID,
	})
}

// LookupStatsResponse represents the lookup stats response.
type LookupStatsResponse struct {
	Hits      int64                    `json:"hits"`
	Misses    int64                    `json:"misses"`
	TopKeys   []observability.KeyStats `json:"top_keys"`
	RequestID string                   `json:"request_id"`
}

// StatsHandler handles GET /v1/stats/lookups requests.
type StatsHandler struct {
	stats *observability.LookupStats
}

// NewStatsHandler creates a lookup stats handler.
func NewStatsHandler(stats *observability.LookupStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// ServeHTTP handles the stats HTTP request.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer", requestID)
			return
		}
		n = parsed
	}

	hits, misses := h.stats.Totals()
	writeJSON(w, http.StatusOK, LookupStatsResponse{
		Hits:      hits,
		Misses:    misses,
		TopKeys:   h.stats.TopKeys(n),
		RequestID: requestID,
	})
}

func parseInt64Param(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func parseInt64ListParam(r *http.Request, name string) ([]int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a comma-separated list of integers", name)
		}
		out = append(out, v)
	}
	return out, nil
}
