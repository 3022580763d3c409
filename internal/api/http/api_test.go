package http

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenapm/lumen/internal/bundle"
	"github.com/lumenapm/lumen/internal/catalog"
	"github.com/lumenapm/lumen/internal/index"
	"github.com/lumenapm/lumen/internal/metrics"
	"github.com/lumenapm/lumen/internal/observability"
	"github.com/lumenapm/lumen/internal/storage"
	"github.com/lumenapm/lumen/internal/thresholds"
)

const (
	testRawDebugID   = "2B69E5BD2E984C578CE1B58DA19110AE"
	testCanonDebugID = "2b69e5bd-2e98-4c57-8ce1-b58da19110ae"
)

type apiEnv struct {
	indexer *index.Indexer
	lookup  *index.Lookup
	stats   *observability.LookupStats
	store   *thresholds.SQLiteStore
	builder *metrics.Builder
}

// staticTags resolves everything to fixed codes, enough to exercise the
// expression factories end to end.
type staticTags struct{}

func (staticTags) ResolveTagKey(_ metrics.UseCase, _ int64, name string) (string, error) {
	return "tags[7]", nil
}

func (staticTags) ResolveTagValue(_ metrics.UseCase, _ int64, value string) (interface{}, error) {
	return int64(len(value)), nil
}

func (s staticTags) ResolveTagValues(useCase metrics.UseCase, orgID int64, values []string) ([]interface{}, error) {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		resolved, err := s.ResolveTagValue(useCase, orgID, v)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (staticTags) ReverseResolveWeak(_ metrics.UseCase, _ int64, metricID int64) (string, error) {
	switch metricID {
	case 1:
		return metrics.MRITransactionDuration, nil
	case 2:
		return metrics.MRIMeasurementsLCP, nil
	}
	return "", nil
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	catFile, err := os.CreateTemp(t.TempDir(), "catalog-*.db")
	require.NoError(t, err)
	require.NoError(t, catFile.Close())
	cat, err := catalog.NewCatalog(catFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	thrFile := filepath.Join(t.TempDir(), "thresholds.db")
	thrStore, err := thresholds.NewStore(thrFile)
	require.NoError(t, err)
	t.Cleanup(func() { thrStore.Close() })

	tags := staticTags{}
	resolver := metrics.NewThresholdResolver(thrStore, tags)
	workDir := t.TempDir()
	stats := observability.NewLookupStats()

	return &apiEnv{
		indexer: index.NewIndexer(cat, store, workDir),
		lookup:  index.NewLookup(cat, store, workDir, nil, stats),
		stats:   stats,
		store:   thrStore,
		builder: metrics.NewBuilder(tags, resolver, false),
	}
}

func testBundleBody(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := bundle.Manifest{
		DebugID: testRawDebugID,
		Files: map[string]bundle.FileEntry{
			"files/app.js": {
				URL:     "http://example.com/app.js",
				Type:    "minified_source",
				Headers: map[string]string{"Debug-Id": testRawDebugID},
			},
		},
	}
	w, err := zw.Create(bundle.ManifestName)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(manifest))
	w, err = zw.Create("files/app.js")
	require.NoError(t, err)
	_, err = w.Write([]byte("console.log('app')"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func uploadBundle(t *testing.T, env *apiEnv) UploadResponse {
	t.Helper()

	handler := DefaultMiddleware()(NewUploadHandler(env.indexer, 64<<20))
	req := httptest.NewRequest(http.MethodPost,
		"/v1/bundles?org_id=1&project_ids=10&release=v1.0",
		bytes.NewReader(testBundleBody(t)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestUploadBundle(t *testing.T) {
	env := newAPIEnv(t)
	resp := uploadBundle(t, env)

	assert.NotEmpty(t, resp.BundleID)
	assert.Equal(t, int64(1), resp.ArtifactCount)
	assert.NotEmpty(t, resp.RequestID)
}

func TestUploadBundleValidation(t *testing.T) {
	env := newAPIEnv(t)
	handler := DefaultMiddleware()(NewUploadHandler(env.indexer, 64<<20))

	tests := []struct {
		name   string
		target string
		body   []byte
	}{
		{"missing org", "/v1/bundles?project_ids=10", testBundleBody(t)},
		{"missing projects", "/v1/bundles?org_id=1", testBundleBody(t)},
		{"dist without release", "/v1/bundles?org_id=1&project_ids=10&dist=android", testBundleBody(t)},
		{"bad project list", "/v1/bundles?org_id=1&project_ids=10,x", testBundleBody(t)},
		{"not a zip", "/v1/bundles?org_id=1&project_ids=10", []byte("plain text")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestArtifactLookupByDebugID(t *testing.T) {
	env := newAPIEnv(t)
	upload := uploadBundle(t, env)

	handler := DefaultMiddleware()(NewArtifactHandler(env.lookup))
	target := fmt.Sprintf("/v1/artifacts?org_id=1&project_id=10&debug_id=%s&file_type=minified_source", testCanonDebugID)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "console.log('app')", string(body))
	assert.Equal(t, upload.BundleID, rec.Header().Get("X-Bundle-ID"))
	assert.Equal(t, testRawDebugID, rec.Header().Get("X-Artifact-Debug-Id"))
}

func TestArtifactLookupByURL(t *testing.T) {
	env := newAPIEnv(t)
	uploadBundle(t, env)

	handler := DefaultMiddleware()(NewArtifactHandler(env.lookup))
	req := httptest.NewRequest(http.MethodGet,
		"/v1/artifacts?org_id=1&url="+"http%3A%2F%2Fexample.com%2Fapp.js", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestArtifactLookupNotFound(t *testing.T) {
	env := newAPIEnv(t)
	uploadBundle(t, env)

	handler := DefaultMiddleware()(NewArtifactHandler(env.lookup))
	req := httptest.NewRequest(http.MethodGet,
		"/v1/artifacts?org_id=1&project_id=10&debug_id=aabbccdd-1122-3344-5566-778899aabbcc&file_type=source", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchBundle(t *testing.T) {
	env := newAPIEnv(t)
	upload := uploadBundle(t, env)

	handler := DefaultMiddleware()(NewSearchHandler(env.lookup))
	req := httptest.NewRequest(http.MethodGet,
		"/v1/bundles/search?bundle_id="+upload.BundleID+"&q=app.js", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "files/app.js", resp.Entries[0].Path)
	assert.Equal(t, "http://example.com/app.js", resp.Entries[0].URL)

	// A query matching nothing returns an empty list, not an error.
	req = httptest.NewRequest(http.MethodGet,
		"/v1/bundles/search?bundle_id="+upload.BundleID+"&q=nothing-here", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Entries)
}

func TestLookupStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.stats.RecordHit(observability.KindDebugID, testCanonDebugID)
	env.stats.RecordMiss(observability.KindURL, "http://example.com/missing.js")

	handler := DefaultMiddleware()(NewStatsHandler(env.stats))
	req := httptest.NewRequest(http.MethodGet, "/v1/stats/lookups?n=5", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LookupStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Hits)
	assert.Equal(t, int64(1), resp.Misses)
	assert.Len(t, resp.TopKeys, 2)
}

func TestExpressionEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	handler := DefaultMiddleware()(NewExpressionHandler(env.builder))
	body := `{"field":"failure_count_transactions","org_id":1,"metric_ids":[7],"alias":"failures"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/metrics/expression", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ExpressionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Expression, "countIf(value, and(in(metric_id, [7])")
	assert.Contains(t, resp.Expression, "AS failures")
	assert.NotEmpty(t, resp.Tree)
}

func TestExpressionEndpointUnknownField(t *testing.T) {
	env := newAPIEnv(t)

	handler := DefaultMiddleware()(NewExpressionHandler(env.builder))
	body := `{"field":"made_up_field","org_id":1,"metric_ids":[7]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/metrics/expression", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpressionEndpointSatisfaction(t *testing.T) {
	env := newAPIEnv(t)

	handler := DefaultMiddleware()(NewExpressionHandler(env.builder))
	body := `{"field":"satisfaction_count_transactions","org_id":1,"project_ids":[10],"metric_ids":[1,2],"alias":"satisfied"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/metrics/expression", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ExpressionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Expression, "project_threshold_config")
}

func TestThresholdEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	handler := DefaultMiddleware()(NewThresholdHandler(env.store))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/thresholds", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"org_id":1,"project_id":10,"metric":"lcp","threshold":2500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = post(`{"org_id":1,"project_id":10,"transaction":"/checkout","metric":"duration","threshold":400}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Invalid metric and non-positive threshold are rejected.
	assert.Equal(t, http.StatusBadRequest, post(`{"org_id":1,"project_id":10,"metric":"fcp","threshold":100}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"org_id":1,"project_id":10,"metric":"lcp","threshold":0}`).Code)

	// Delete the override, keep the project default.
	req := httptest.NewRequest(http.MethodDelete, "/v1/thresholds",
		strings.NewReader(`{"org_id":1,"project_id":10,"transaction":"/checkout"}`))
	delRec := httptest.NewRecorder()
	handler.ServeHTTP(delRec, req)
	require.Equal(t, http.StatusOK, delRec.Code)

	ctx := context.Background()
	overrides, err := env.store.TransactionThresholds(ctx, 1, []int64{10})
	require.NoError(t, err)
	assert.Empty(t, overrides)

	projects, err := env.store.ProjectThresholds(ctx, 1, []int64{10})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, int64(2500), projects[0].Threshold)
}
