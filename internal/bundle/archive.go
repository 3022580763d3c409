package bundle

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"strings"

	lumerr "github.com/lumenapm/lumen/internal/errors"
	"github.com/lumenapm/lumen/pkg/types"
)

// Common archive errors. Per-entry lookups return ErrEntryNotFound rather
// than failing the archive; a missing entry is a steady-state condition.
var (
	ErrMalformedArchive = lumerr.New(lumerr.ErrCategoryArchive, lumerr.CodeMalformedArchive, "malformed artifact bundle")
	ErrManifestMissing  = lumerr.New(lumerr.ErrCategoryArchive, lumerr.CodeManifestMissing, "artifact bundle has no manifest.json")
	ErrEntryNotFound    = lumerr.New(lumerr.ErrCategoryArchive, lumerr.CodeEntryNotFound, "entry not found in artifact bundle")
)

// TypedDebugID pairs a normalized debug id with the source file type it was
// declared for. One debug id commonly appears twice per bundle: once for the
// minified source and once for its source map.
type TypedDebugID struct {
	FileType types.SourceFileType
	DebugID  string
}

// debugIDKey keys the debug-id lookup index.
type debugIDKey struct {
	debugID  string
	fileType types.SourceFileType
}

// debugIDEntry is a debug-id index value: the archive path, the entry URL,
// and the full manifest entry.
type debugIDEntry struct {
	path  string
	url   string
	entry FileEntry
}

// urlEntry is a URL index value.
type urlEntry struct {
	path  string
	entry FileEntry
}

// OpenOptions controls archive opening.
type OpenOptions struct {
	// SkipLookupIndex suppresses construction of the in-memory lookup
	// indexes. Call sites that only walk the manifest sequentially (the
	// indexing pipeline's extract pass, CLI inspection) can skip the
	// allocation; keyed accessors will then report ErrEntryNotFound.
	SkipLookupIndex bool
}

// Archive is a read-only view of an uploaded artifact bundle.
//
// The manifest and both lookup indexes are built once at open time and never
// mutated, so concurrent keyed lookups from multiple goroutines are safe.
// Streams returned by the content accessors are freshly opened per call and
// are owned exclusively by the caller until closed.
type Archive struct {
	zr      *zip.Reader
	backing io.Closer
	opts    OpenOptions
	byName  map[string]*zip.File

	manifest      Manifest
	artifactCount int

	entriesByDebugID map[debugIDKey]debugIDEntry
	entriesByURL     map[string]urlEntry
}

// Open reads r as an artifact bundle and builds the lookup indexes.
// If r also implements io.Closer, the archive takes ownership and closes it
// on Close, or immediately when opening fails.
func Open(r io.ReaderAt, size int64) (*Archive, error) {
	return OpenWithOptions(r, size, OpenOptions{})
}

// OpenFile opens the artifact bundle at path. The underlying file handle is
// owned by the returned archive and released on Close.
func OpenFile(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lumerr.NewArchiveError(lumerr.CodeMalformedArchive, "cannot open bundle file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, lumerr.NewArchiveError(lumerr.CodeMalformedArchive, "cannot stat bundle file", err)
	}
	return Open(f, info.Size())
}

// OpenWithOptions reads r as an artifact bundle.
func OpenWithOptions(r io.ReaderAt, size int64, opts OpenOptions) (*Archive, error) {
	backing, _ := r.(io.Closer)

	zr, err := zip.NewReader(r, size)
	if err != nil {
		if backing != nil {
			backing.Close()
		}
		return nil, lumerr.Wrap(lumerr.ErrCategoryArchive, lumerr.CodeMalformedArchive, "not a zip container", err)
	}

	a := &Archive{
		zr:      zr,
		backing: backing,
		opts:    opts,
		byName:  make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		a.byName[f.Name] = f
	}

	if err := a.readManifest(); err != nil {
		a.Close()
		return nil, err
	}
	a.artifactCount = len(a.manifest.Files)

	if !opts.SkipLookupIndex {
		a.buildLookupIndexes()
	}

	return a, nil
}

// Close releases the archive and its backing stream together. Safe to call
// multiple times.
func (a *Archive) Close() error {
	if a.backing == nil {
		return nil
	}
	err := a.backing.Close()
	a.backing = nil
	return err
}

// readManifest locates and deserializes manifest.json.
func (a *Archive) readManifest() error {
	rc, err := a.openEntry(ManifestName)
	if err != nil {
		// Matches both ErrMalformedArchive (a bundle without a manifest is
		// malformed) and the more specific ErrManifestMissing.
		return lumerr.Wrap(lumerr.ErrCategoryArchive, lumerr.CodeMalformedArchive, "missing manifest.json", ErrManifestMissing)
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(&a.manifest); err != nil {
		return lumerr.Wrap(lumerr.ErrCategoryArchive, lumerr.CodeMalformedArchive, "invalid manifest.json", err)
	}
	return nil
}

// buildLookupIndexes builds the two in-memory lookup tables over manifest
// entries. Duplicate (debug id, type) pairs and duplicate URLs should not
// occur in practice; when they do, the later entry in iteration order
// silently overwrites the earlier one.
func (a *Archive) buildLookupIndexes() {
	a.entriesByDebugID = make(map[debugIDKey]debugIDEntry)
	a.entriesByURL = make(map[string]urlEntry, len(a.manifest.Files))

	for path, entry := range a.manifest.Files {
		headers := NormalizeHeaders(entry.Headers)
		if raw, present := headers[debugIDHeader]; present {
			debugID, ok := types.NormalizeDebugID(raw)
			fileType, typeOK := types.SourceFileTypeFromKey(entry.Type)
			if ok && typeOK {
				a.entriesByDebugID[debugIDKey{debugID, fileType}] = debugIDEntry{
					path:  path,
					url:   entry.URL,
					entry: entry,
				}
			}
		}

		a.entriesByURL[entry.URL] = urlEntry{path: path, entry: entry}
	}
}

// Manifest returns the deserialized bundle manifest.
func (a *Archive) Manifest() Manifest {
	return a.manifest
}

// ArtifactCount returns the number of files described by the manifest.
func (a *Archive) ArtifactCount() int {
	return a.artifactCount
}

// Files returns the manifest file entries keyed by archive path.
func (a *Archive) Files() map[string]FileEntry {
	return a.manifest.Files
}

// BundleID returns the normalized bundle-level debug id, or ok=false when
// the manifest carries none or it is malformed.
func (a *Archive) BundleID() (string, bool) {
	if a.manifest.DebugID == "" {
		return "", false
	}
	return types.NormalizeDebugID(a.manifest.DebugID)
}

// ExtractDebugIDs returns the bundle's own debug id (empty when absent or
// malformed) and the deduplicated set of (file type, normalized debug id)
// pairs across all entries. Entries with a malformed debug id or an unknown
// type are skipped, never reported as errors.
//
// This is the primary signal the indexing pipeline uses to register the
// bundle against debug-id lookups.
func (a *Archive) ExtractDebugIDs() (string, map[TypedDebugID]struct{}) {
	bundleID, _ := a.BundleID()

	ids := make(map[TypedDebugID]struct{})
	for _, entry := range a.manifest.Files {
		headers := NormalizeHeaders(entry.Headers)
		raw, present := headers[debugIDHeader]
		if !present {
			continue
		}
		debugID, ok := types.NormalizeDebugID(raw)
		if !ok {
			continue
		}
		fileType, ok := types.SourceFileTypeFromKey(entry.Type)
		if !ok {
			continue
		}
		ids[TypedDebugID{FileType: fileType, DebugID: debugID}] = struct{}{}
	}

	return bundleID, ids
}

// FileByURL returns a fresh content stream and the (lower-cased) headers of
// the entry with the given URL. Returns ErrEntryNotFound when no entry has
// that URL.
func (a *Archive) FileByURL(url string) (io.ReadCloser, map[string]string, error) {
	ue, ok := a.entriesByURL[url]
	if !ok {
		return nil, nil, ErrEntryNotFound
	}
	rc, err := a.openEntry(ue.path)
	if err != nil {
		return nil, nil, err
	}
	return rc, NormalizeHeaders(ue.entry.Headers), nil
}

// FileByDebugID returns a fresh content stream and headers for the entry
// indexed under the given canonical debug id and source file type.
func (a *Archive) FileByDebugID(debugID string, fileType types.SourceFileType) (io.ReadCloser, map[string]string, error) {
	de, ok := a.entriesByDebugID[debugIDKey{debugID, fileType}]
	if !ok {
		return nil, nil, ErrEntryNotFound
	}
	rc, err := a.openEntry(de.path)
	if err != nil {
		return nil, nil, err
	}
	return rc, NormalizeHeaders(de.entry.Headers), nil
}

// File returns a fresh content stream for the given archive path along with
// its manifest headers. A path present in the archive but absent from the
// manifest yields empty headers.
func (a *Archive) File(path string) (io.ReadCloser, map[string]string, error) {
	rc, err := a.openEntry(path)
	if err != nil {
		return nil, nil, ErrEntryNotFound
	}
	headers := map[string]string{}
	if entry, ok := a.manifest.Files[path]; ok {
		headers = NormalizeHeaders(entry.Headers)
	}
	return rc, headers, nil
}

// URLByDebugID returns the URL recorded for the given debug id and type.
func (a *Archive) URLByDebugID(debugID string, fileType types.SourceFileType) (string, bool) {
	de, ok := a.entriesByDebugID[debugIDKey{debugID, fileType}]
	if !ok {
		return "", false
	}
	return de.url, true
}

// URLByPath returns the URL of the manifest entry at the given path.
func (a *Archive) URLByPath(path string) (string, bool) {
	entry, ok := a.manifest.Files[path]
	if !ok {
		return "", false
	}
	return entry.URL, true
}

// FileInfo returns the zip header for the given archive path.
func (a *Archive) FileInfo(path string) (*zip.FileHeader, bool) {
	f, ok := a.byName[path]
	if !ok {
		return nil, false
	}
	return &f.FileHeader, true
}

// FilterFiles returns all manifest entries satisfying the predicate.
func (a *Archive) FilterFiles(predicate func(path string, entry FileEntry) bool) map[string]FileEntry {
	results := make(map[string]FileEntry)
	for path, entry := range a.manifest.Files {
		if predicate(path, entry) {
			results[path] = entry
		}
	}
	return results
}

// SearchByURLOrDebugID returns all entries whose URL contains the query
// (case-insensitive), or whose normalized debug id contains the query, or
// whose normalized debug id contains the normalized form of the query. The
// last attempt lets a query typed without hyphens still match a hyphenated
// canonical id. An empty query matches every entry.
func (a *Archive) SearchByURLOrDebugID(query string) map[string]FileEntry {
	return a.FilterFiles(func(_ string, entry FileEntry) bool {
		if query == "" {
			return true
		}

		normalizedQuery := strings.ToLower(query)
		if strings.Contains(strings.ToLower(entry.URL), normalizedQuery) {
			return true
		}

		headers := NormalizeHeaders(entry.Headers)
		raw, present := headers[debugIDHeader]
		if !present {
			return false
		}
		debugID, ok := types.NormalizeDebugID(raw)
		if !ok {
			return false
		}
		debugID = strings.ToLower(debugID)

		if strings.Contains(debugID, normalizedQuery) {
			return true
		}
		if canonical, ok := types.NormalizeDebugID(normalizedQuery); ok && strings.Contains(debugID, canonical) {
			return true
		}
		return false
	})
}

// openEntry opens a fresh read handle on the named archive entry. Entries
// are not assumed safely shareable across readers, so every access gets its
// own handle.
func (a *Archive) openEntry(name string) (io.ReadCloser, error) {
	f, ok := a.byName[name]
	if !ok {
		return nil, ErrEntryNotFound
	}
	rc, err := f.Open()
	if err != nil {
		return nil, lumerr.NewArchiveError(lumerr.CodeMalformedArchive, "cannot open archive entry", err)
	}
	return rc, nil
}
