package index

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/lumenapm/lumen/internal/bloom"
	"github.com/lumenapm/lumen/internal/bundle"
	"github.com/lumenapm/lumen/internal/cache"
	"github.com/lumenapm/lumen/internal/catalog"
	lumerr "github.com/lumenapm/lumen/internal/errors"
	"github.com/lumenapm/lumen/internal/observability"
	"github.com/lumenapm/lumen/internal/storage"
	"github.com/lumenapm/lumen/pkg/types"
)

// ErrArtifactNotFound is returned when no indexed bundle resolves a
// debug-id or URL lookup.
var ErrArtifactNotFound = lumerr.New(lumerr.ErrCategoryCatalog, lumerr.CodeEntryNotFound, "artifact not found in any bundle")

// Result is a resolved artifact: its content, manifest headers, and the
// bundle it came from.
type Result struct {
	Content io.ReadCloser
	Headers map[string]string
	Bundle  *catalog.BundleRecord
}

// Lookup resolves artifacts by debug-id or URL against indexed bundles.
// Exact catalog rows win; bundles whose release never crossed the URL
// indexing threshold are reached through a bloom-screened fallback scan.
type Lookup struct {
	catalog catalog.Catalog
	store   storage.ObjectStorage
	workDir string
	cache   *cache.ArchiveCache
	stats   *observability.LookupStats
}

// NewLookup creates a lookup layered on the catalog and object storage.
// archiveCache and stats may be nil to disable archive caching and stat
// recording respectively; without a cache every lookup fetches the
// bundle's archive into workDir and removes it after serving.
func NewLookup(cat catalog.Catalog, store storage.ObjectStorage, workDir string, archiveCache *cache.ArchiveCache, stats *observability.LookupStats) *Lookup {
	return &Lookup{catalog: cat, store: store, workDir: workDir, cache: archiveCache, stats: stats}
}

// fetchArchive makes a bundle's archive available on local disk. cached
// reports whether the cache owns the file; uncached files belong to the
// caller and must be removed after use.
func (l *Lookup) fetchArchive(ctx context.Context, record *catalog.BundleRecord) (localPath string, cached bool, err error) {
	if l.cache != nil {
		localPath, err = l.cache.GetOrFetch(ctx, record.ID, func(ctx context.Context, dest string) error {
			return l.store.Fetch(ctx, record.ObjectPath, dest)
		})
		return localPath, true, err
	}
	localPath = filepath.Join(l.workDir, record.ID+".zip")
	if err := l.store.Fetch(ctx, record.ObjectPath, localPath); err != nil {
		return "", false, err
	}
	return localPath, false, nil
}

// FindByDebugID resolves an artifact by debug-id and source file type.
// The raw debug-id is normalized before matching; an unparseable id is
// rejected without touching the catalog.
func (l *Lookup) FindByDebugID(ctx context.Context, orgID, projectID int64, rawDebugID string, fileType types.SourceFileType) (*Result, error) {
	debugID, ok := types.NormalizeDebugID(rawDebugID)
	if !ok {
		return nil, lumerr.NewValidationError(lumerr.CodeInvalidParams, "malformed debug-id: "+rawDebugID)
	}

	candidates, err := l.catalog.FindByDebugID(ctx, orgID, debugID, int(fileType))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		// Bundles uploaded before indexing ran have no debug-id rows yet;
		// scan the project's bundles with the bloom filter as a pre-screen.
		candidates, err = l.screenProjectBundles(ctx, orgID, projectID, debugID)
		if err != nil {
			return nil, err
		}
	}

	for _, record := range candidates {
		res, err := l.openArtifact(ctx, record, func(a *bundle.Archive) (io.ReadCloser, map[string]string, error) {
			return a.FileByDebugID(debugID, fileType)
		})
		if err != nil {
			continue
		}
		l.recordHit(observability.KindDebugID, debugID)
		l.renew(ctx, record.ID)
		return res, nil
	}

	l.recordMiss(observability.KindDebugID, debugID)
	return nil, ErrArtifactNotFound
}

// FindByURL resolves an artifact by the exact URL it was served from.
// Only bundles whose release crossed the indexing threshold have URL
// rows, so there is no fallback scan here.
func (l *Lookup) FindByURL(ctx context.Context, orgID int64, url string) (*Result, error) {
	candidates, err := l.catalog.FindByURL(ctx, orgID, url)
	if err != nil {
		return nil, err
	}

	for _, record := range candidates {
		res, err := l.openArtifact(ctx, record, func(a *bundle.Archive) (io.ReadCloser, map[string]string, error) {
			return a.FileByURL(url)
		})
		if err != nil {
			continue
		}
		l.recordHit(observability.KindURL, url)
		l.renew(ctx, record.ID)
		return res, nil
	}

	l.recordMiss(observability.KindURL, url)
	return nil, ErrArtifactNotFound
}

// SearchBundle opens a bundle's archive and returns the manifest entries
// matching a free-text query over URLs and debug-ids. An empty query
// matches every entry.
func (l *Lookup) SearchBundle(ctx context.Context, bundleID, query string) (map[string]bundle.FileEntry, error) {
	record, err := l.catalog.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	localPath, cached, err := l.fetchArchive(ctx, record)
	if err != nil {
		return nil, err
	}
	if !cached {
		defer os.Remove(localPath)
	}

	archive, err := bundle.OpenFile(localPath)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	return archive.SearchByURLOrDebugID(query), nil
}

// screenProjectBundles returns the project's bundles that might contain
// the debug-id, cheapest-to-check first. A bundle without a stored filter
// cannot be screened and stays a candidate.
func (l *Lookup) screenProjectBundles(ctx context.Context, orgID, projectID int64, debugID string) ([]*catalog.BundleRecord, error) {
	records, err := l.catalog.ListProjectBundles(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}

	var candidates []*catalog.BundleRecord
	for _, record := range records {
		blob, err := l.catalog.GetBloomFilter(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			candidates = append(candidates, record)
			continue
		}
		filter, err := bloom.Unmarshal(blob)
		if err != nil {
			log.Printf("index: bundle %s has corrupt bloom filter: %v", record.ID, err)
			candidates = append(candidates, record)
			continue
		}
		if filter.Contains(debugID) {
			candidates = append(candidates, record)
		}
	}
	return candidates, nil
}

// openArtifact fetches a bundle's archive and extracts one file from it.
func (l *Lookup) openArtifact(ctx context.Context, record *catalog.BundleRecord, extract func(*bundle.Archive) (io.ReadCloser, map[string]string, error)) (*Result, error) {
	localPath, cached, err := l.fetchArchive(ctx, record)
	if err != nil {
		return nil, err
	}
	removePath := localPath
	if cached {
		// The cache owns the file.
		removePath = ""
	}

	archive, err := bundle.OpenFile(localPath)
	if err != nil {
		if !cached {
			os.Remove(localPath)
		}
		return nil, err
	}

	content, headers, err := extract(archive)
	if err != nil {
		archive.Close()
		if !cached {
			os.Remove(localPath)
		}
		return nil, err
	}

	return &Result{
		Content: &artifactReader{ReadCloser: content, archive: archive, localPath: removePath},
		Headers: headers,
		Bundle:  record,
	}, nil
}

// renew refreshes retention on a bundle that served a lookup. Renewal is
// best-effort; a failure never fails the lookup itself.
func (l *Lookup) renew(ctx context.Context, bundleID string) {
	if err := l.catalog.RenewBundles(ctx, []string{bundleID}); err != nil {
		log.Printf("index: failed to renew bundle %s: %v", bundleID, err)
	}
}

func (l *Lookup) recordHit(kind, key string) {
	if l.stats != nil {
		l.stats.RecordHit(kind, key)
	}
}

func (l *Lookup) recordMiss(kind, key string) {
	if l.stats != nil {
		l.stats.RecordMiss(kind, key)
	}
}

// artifactReader owns the archive, and its temp file when the archive
// was not served from the cache, for the lifetime of one extracted
// artifact stream.
type artifactReader struct {
	io.ReadCloser
	archive   *bundle.Archive
	localPath string
}

func (r *artifactReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.archive.Close(); err == nil {
		err = cerr
	}
	if r.localPath != "" {
		os.Remove(r.localPath)
	}
	return err
}
