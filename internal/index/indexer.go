// Package index implements the bundle indexing pipeline and the lookup
// path layered on top of the catalog, object storage, and the archive
// reader.
package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lumenapm/lumen/internal/bloom"
	"github.com/lumenapm/lumen/internal/bundle"
	"github.com/lumenapm/lumen/internal/catalog"
	"github.com/lumenapm/lumen/internal/storage"
)

// Indexer registers uploaded bundles and writes their lookup rows.
type Indexer struct {
	catalog catalog.Catalog
	store   storage.ObjectStorage
	workDir string
}

// NewIndexer creates an indexing pipeline. workDir holds temporary archive
// downloads during indexing.
func NewIndexer(cat catalog.Catalog, store storage.ObjectStorage, workDir string) *Indexer {
	return &Indexer{catalog: cat, store: store, workDir: workDir}
}

// RegisterBundle validates an uploaded archive, stores it, and registers it
// in the catalog with its project and release associations. The returned
// record is not yet indexed; call IndexBundle to write lookup rows.
func (ix *Indexer) RegisterBundle(ctx context.Context, orgID int64, projectIDs []int64, release, dist string, content io.Reader) (*catalog.BundleRecord, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("index: failed to read upload: %w", err)
	}

	// Open before storing so a malformed archive never reaches storage.
	archive, err := bundle.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	bundleID, _ := archive.BundleID()
	artifactCount := archive.ArtifactCount()
	archive.Close()

	id := uuid.NewString()
	objectPath := path.Join("bundles", fmt.Sprintf("org-%d", orgID), id+".zip")
	if err := ix.store.Put(ctx, objectPath, bytes.NewReader(data)); err != nil {
		return nil, err
	}

	record := &catalog.BundleRecord{
		ID:             id,
		OrganizationID: orgID,
		BundleID:       bundleID,
		ObjectPath:     objectPath,
		ArtifactCount:  int64(artifactCount),
	}
	if err := ix.catalog.RegisterBundle(ctx, record, projectIDs, release, dist); err != nil {
		return nil, err
	}
	return record, nil
}

// IndexBundle downloads a registered bundle, extracts its debug-ids, builds
// the bloom filter, writes catalog lookup rows, and marks the bundle
// indexed. URL rows are written only once the bundle's release has
// accumulated enough bundles to justify them.
func (ix *Indexer) IndexBundle(ctx context.Context, bundleID, release, dist string) error {
	record, err := ix.catalog.GetBundle(ctx, bundleID)
	if err != nil {
		return err
	}

	localPath := filepath.Join(ix.workDir, record.ID+".zip")
	if err := ix.store.Fetch(ctx, record.ObjectPath, localPath); err != nil {
		return err
	}
	defer os.Remove(localPath)

	archive, err := bundle.OpenFile(localPath)
	if err != nil {
		return err
	}
	defer archive.Close()

	_, typedIDs := archive.ExtractDebugIDs()

	rows := make([]catalog.DebugIDRow, 0, len(typedIDs))
	seen := make(map[string]struct{}, len(typedIDs))
	distinct := make([]string, 0, len(typedIDs))
	for typed := range typedIDs {
		rows = append(rows, catalog.DebugIDRow{
			DebugID:        typed.DebugID,
			SourceFileType: int(typed.FileType),
		})
		if _, ok := seen[typed.DebugID]; !ok {
			seen[typed.DebugID] = struct{}{}
			distinct = append(distinct, typed.DebugID)
		}
	}
	if err := ix.catalog.InsertDebugIDs(ctx, record.OrganizationID, record.ID, rows); err != nil {
		return err
	}

	filter := bloom.FromDebugIDs(distinct)
	blob, err := filter.Marshal()
	if err != nil {
		return fmt.Errorf("index: failed to serialize bloom filter: %w", err)
	}
	if err := ix.catalog.StoreBloomFilter(ctx, record.ID, blob); err != nil {
		return err
	}

	if release != "" {
		count, err := ix.catalog.CountReleaseBundles(ctx, record.OrganizationID, release, dist)
		if err != nil {
			return err
		}
		if count >= catalog.IndexingThreshold {
			urls := make([]string, 0, archive.ArtifactCount())
			for _, entry := range archive.Files() {
				if entry.URL != "" {
					urls = append(urls, entry.URL)
				}
			}
			if err := ix.catalog.InsertURLs(ctx, record.OrganizationID, record.ID, urls); err != nil {
				return err
			}
		}
	}

	if err := ix.catalog.SetIndexingState(ctx, record.ID, catalog.IndexingStateIndexed); err != nil {
		return err
	}

	log.Printf("index: bundle %s indexed with %d debug-id rows", record.ID, len(rows))
	return nil
}
