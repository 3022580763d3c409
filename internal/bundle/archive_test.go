package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenapm/lumen/pkg/types"
)

const (
	testDebugIDRaw       = "2B69E5BD2E984C578CE1B58DA19110AE"
	testDebugIDCanonical = "2b69e5bd-2e98-4c57-8ce1-b58da19110ae"
	otherDebugIDRaw      = "AABBCCDD-1122-3344-5566-778899AABBCC"
	otherDebugIDCanon    = "aabbccdd-1122-3344-5566-778899aabbcc"
)

// buildBundle assembles an in-memory artifact bundle zip. manifest may be a
// Manifest, a raw string (written verbatim), or nil (no manifest entry).
func buildBundle(t *testing.T, manifest interface{}, contents map[string]string) *bytes.Reader {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	switch m := manifest.(type) {
	case nil:
	case string:
		w, err := zw.Create(ManifestName)
		require.NoError(t, err)
		_, err = w.Write([]byte(m))
		require.NoError(t, err)
	case Manifest:
		w, err := zw.Create(ManifestName)
		require.NoError(t, err)
		require.NoError(t, json.NewEncoder(w).Encode(m))
	default:
		t.Fatalf("unsupported manifest type %T", manifest)
	}

	for name, content := range contents {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func testManifest() Manifest {
	return Manifest{
		DebugID: testDebugIDRaw,
		Files: map[string]FileEntry{
			"files/a.js": {
				URL:  "http://example.com/static/a.js",
				Type: "minified_source",
				Headers: map[string]string{
					"Debug-Id":  testDebugIDRaw,
					"Sourcemap": "a.js.map",
					"X-Custom":  "value",
				},
			},
			"files/a.js.map": {
				URL:     "http://example.com/static/a.js.map",
				Type:    "source_map",
				Headers: map[string]string{"debug-id": testDebugIDRaw},
			},
			"files/b.js": {
				URL:     "http://example.com/static/b.js",
				Type:    "source",
				Headers: map[string]string{"Debug-Id": otherDebugIDRaw},
			},
			"files/plain.js": {
				URL:     "http://example.com/static/plain.js",
				Type:    "source",
				Headers: map[string]string{},
			},
		},
	}
}

func testContents() map[string]string {
	return map[string]string{
		"files/a.js":     "console.log('a')",
		"files/a.js.map": "{\"version\":3}",
		"files/b.js":     "console.log('b')",
		"files/plain.js": "console.log('plain')",
		"orphan.txt":     "not in manifest",
	}
}

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	r := buildBundle(t, testManifest(), testContents())
	archive, err := Open(r, r.Size())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	return archive
}

func TestOpen_NotAZip(t *testing.T) {
	data := bytes.NewReader([]byte("definitely not a zip container"))
	_, err := Open(data, data.Size())
	assert.ErrorIs(t, err, ErrMalformedArchive)
}

func TestOpen_MissingManifest(t *testing.T) {
	r := buildBundle(t, nil, map[string]string{"a.js": "x"})
	_, err := Open(r, r.Size())
	assert.ErrorIs(t, err, ErrManifestMissing)
}

func TestOpen_InvalidManifestJSON(t *testing.T) {
	r := buildBundle(t, "{not json", nil)
	_, err := Open(r, r.Size())
	assert.ErrorIs(t, err, ErrMalformedArchive)
}

func TestOpen_ArtifactCount(t *testing.T) {
	archive := openTestArchive(t)
	assert.Equal(t, 4, archive.ArtifactCount())
}

func TestArchive_FileByURL(t *testing.T) {
	archive := openTestArchive(t)

	rc, headers, err := archive.FileByURL("http://example.com/static/a.js")
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "console.log('a')", string(content))

	// Header keys come back lower-cased.
	assert.Equal(t, testDebugIDRaw, headers["debug-id"])
	assert.Equal(t, "a.js.map", headers["sourcemap"])
	assert.Equal(t, "value", headers["x-custom"])

	_, _, err = archive.FileByURL("http://example.com/static/unknown.js")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestArchive_FileByDebugID(t *testing.T) {
	archive := openTestArchive(t)

	rc, headers, err := archive.FileByDebugID(testDebugIDCanonical, types.SourceFileTypeSourceMap)
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{\"version\":3}", string(content))
	assert.Equal(t, testDebugIDRaw, headers["debug-id"])

	// Same id under a different type resolves to a different entry.
	rc2, _, err := archive.FileByDebugID(testDebugIDCanonical, types.SourceFileTypeMinifiedSource)
	require.NoError(t, err)
	defer rc2.Close()
	content, err = io.ReadAll(rc2)
	require.NoError(t, err)
	assert.Equal(t, "console.log('a')", string(content))

	_, _, err = archive.FileByDebugID(testDebugIDCanonical, types.SourceFileTypeIndexedRAMBundle)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestArchive_URLAndDebugIDAgree(t *testing.T) {
	archive := openTestArchive(t)

	_, byURL, err := archive.FileByURL("http://example.com/static/b.js")
	require.NoError(t, err)
	_, byID, err := archive.FileByDebugID(otherDebugIDCanon, types.SourceFileTypeSource)
	require.NoError(t, err)

	assert.Equal(t, byURL, byID)

	url, ok := archive.URLByDebugID(otherDebugIDCanon, types.SourceFileTypeSource)
	require.True(t, ok)
	assert.Equal(t, "http://example.com/static/b.js", url)
}

func TestArchive_File(t *testing.T) {
	archive := openTestArchive(t)

	rc, headers, err := archive.File("files/b.js")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, otherDebugIDRaw, headers["debug-id"])

	// Present in the zip but absent from the manifest: empty headers.
	rc2, headers, err := archive.File("orphan.txt")
	require.NoError(t, err)
	defer rc2.Close()
	assert.Empty(t, headers)

	_, _, err = archive.File("missing.txt")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestArchive_ExtractDebugIDs(t *testing.T) {
	archive := openTestArchive(t)

	bundleID, ids := archive.ExtractDebugIDs()
	assert.Equal(t, testDebugIDCanonical, bundleID)

	// a.js (minified) + a.js.map (source map) + b.js (source); plain.js has
	// no debug id header and contributes nothing.
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, TypedDebugID{types.SourceFileTypeMinifiedSource, testDebugIDCanonical})
	assert.Contains(t, ids, TypedDebugID{types.SourceFileTypeSourceMap, testDebugIDCanonical})
	assert.Contains(t, ids, TypedDebugID{types.SourceFileTypeSource, otherDebugIDCanon})
}

func TestArchive_ExtractDebugIDs_SkipsBadEntries(t *testing.T) {
	manifest := Manifest{
		Files: map[string]FileEntry{
			"bad-id.js": {
				URL:     "http://x/bad-id.js",
				Type:    "source",
				Headers: map[string]string{"Debug-Id": "not-a-debug-id"},
			},
			"bad-type.js": {
				URL:     "http://x/bad-type.js",
				Type:    "wasm",
				Headers: map[string]string{"Debug-Id": testDebugIDRaw},
			},
			"good.js": {
				URL:     "http://x/good.js",
				Type:    "source",
				Headers: map[string]string{"Debug-Id": testDebugIDRaw},
			},
		},
	}
	r := buildBundle(t, manifest, map[string]string{
		"bad-id.js":   "a",
		"bad-type.js": "b",
		"good.js":     "c",
	})
	archive, err := Open(r, r.Size())
	require.NoError(t, err)
	defer archive.Close()

	bundleID, ids := archive.ExtractDebugIDs()
	assert.Empty(t, bundleID)
	assert.Len(t, ids, 1)
	assert.Contains(t, ids, TypedDebugID{types.SourceFileTypeSource, testDebugIDCanonical})

	// The bad entries are still reachable by URL; only the debug-id index
	// skips them.
	rc, _, err := archive.FileByURL("http://x/bad-id.js")
	require.NoError(t, err)
	rc.Close()
}

func TestArchive_ExtractDebugIDs_DeduplicatesPairs(t *testing.T) {
	manifest := Manifest{
		Files: map[string]FileEntry{
			"one.js": {
				URL:     "http://x/one.js",
				Type:    "source",
				Headers: map[string]string{"Debug-Id": testDebugIDRaw},
			},
			"two.js": {
				// Different surface form of the same id.
				URL:     "http://x/two.js",
				Type:    "source",
				Headers: map[string]string{"Debug-Id": testDebugIDCanonical},
			},
		},
	}
	r := buildBundle(t, manifest, nil)
	archive, err := Open(r, r.Size())
	require.NoError(t, err)
	defer archive.Close()

	_, ids := archive.ExtractDebugIDs()
	assert.Len(t, ids, 1)
}

func TestArchive_DuplicateKeysLastWriteWins(t *testing.T) {
	// Duplicate (type, id) pairs and duplicate URLs keep exactly one entry.
	// Which one wins follows map iteration order; the archive must accept
	// either without erroring.
	manifest := Manifest{
		Files: map[string]FileEntry{
			"one.js": {
				URL:     "http://x/same.js",
				Type:    "source",
				Headers: map[string]string{"Debug-Id": testDebugIDRaw},
			},
			"two.js": {
				URL:     "http://x/same.js",
				Type:    "source",
				Headers: map[string]string{"Debug-Id": testDebugIDRaw},
			},
		},
	}
	r := buildBundle(t, manifest, map[string]string{"one.js": "1", "two.js": "2"})
	archive, err := Open(r, r.Size())
	require.NoError(t, err)
	defer archive.Close()

	rc, _, err := archive.FileByURL("http://x/same.js")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, []string{"1", "2"}, string(content))

	_, _, err = archive.FileByDebugID(testDebugIDCanonical, types.SourceFileTypeSource)
	assert.NoError(t, err)
}

func TestArchive_FilterFiles(t *testing.T) {
	archive := openTestArchive(t)

	maps := archive.FilterFiles(func(_ string, entry FileEntry) bool {
		return entry.Type == "source_map"
	})
	assert.Len(t, maps, 1)
	assert.Contains(t, maps, "files/a.js.map")
}

func TestArchive_SearchByURLOrDebugID(t *testing.T) {
	archive := openTestArchive(t)

	// Empty query matches every entry.
	assert.Len(t, archive.SearchByURLOrDebugID(""), 4)

	// Case-insensitive URL substring.
	results := archive.SearchByURLOrDebugID("STATIC/B")
	assert.Len(t, results, 1)
	assert.Contains(t, results, "files/b.js")

	// Canonical debug id substring.
	results = archive.SearchByURLOrDebugID("2e98-4c57")
	assert.Len(t, results, 2)

	// Unhyphenated query still matches the hyphenated canonical id.
	results = archive.SearchByURLOrDebugID(testDebugIDRaw)
	assert.Len(t, results, 2)
	assert.Contains(t, results, "files/a.js")
	assert.Contains(t, results, "files/a.js.map")

	assert.Empty(t, archive.SearchByURLOrDebugID("no-such-thing"))
}

func TestOpenWithOptions_SkipLookupIndex(t *testing.T) {
	r := buildBundle(t, testManifest(), testContents())
	archive, err := OpenWithOptions(r, r.Size(), OpenOptions{SkipLookupIndex: true})
	require.NoError(t, err)
	defer archive.Close()

	// Sequential access still works.
	assert.Len(t, archive.Files(), 4)
	_, ids := archive.ExtractDebugIDs()
	assert.Len(t, ids, 3)

	// Keyed lookups report not found without an index.
	_, _, err = archive.FileByURL("http://example.com/static/a.js")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestArchive_FileInfo(t *testing.T) {
	archive := openTestArchive(t)

	info, ok := archive.FileInfo("files/a.js")
	require.True(t, ok)
	assert.Equal(t, "files/a.js", info.Name)

	_, ok = archive.FileInfo("missing")
	assert.False(t, ok)
}

func TestArchive_CloseReleasesBacking(t *testing.T) {
	r := buildBundle(t, testManifest(), testContents())
	closer := &countingCloser{Reader: r}

	archive, err := Open(closer, r.Size())
	require.NoError(t, err)

	require.NoError(t, archive.Close())
	assert.Equal(t, 1, closer.closed)

	// Close is idempotent.
	require.NoError(t, archive.Close())
	assert.Equal(t, 1, closer.closed)
}

func TestOpen_ClosesBackingOnError(t *testing.T) {
	r := buildBundle(t, nil, map[string]string{"a.js": "x"})
	closer := &countingCloser{Reader: r}

	_, err := Open(closer, r.Size())
	require.Error(t, err)
	assert.Equal(t, 1, closer.closed)
}

// countingCloser wraps a bytes.Reader and counts Close calls.
type countingCloser struct {
	Reader *bytes.Reader
	closed int
}

func (c *countingCloser) ReadAt(p []byte, off int64) (int, error) {
	return c.Reader.ReadAt(p, off)
}

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestErrEntryNotFound_IsDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrEntryNotFound, ErrMalformedArchive))
	assert.False(t, errors.Is(ErrManifestMissing, ErrEntryNotFound))
}
