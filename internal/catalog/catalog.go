package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	lumerr "github.com/lumenapm/lumen/internal/errors"
)

// IndexingState tracks whether a bundle's lookup rows have been written.
type IndexingState int

const (
	IndexingStateNotIndexed IndexingState = 0
	IndexingStateIndexed    IndexingState = 1
)

// IndexingThreshold is the number of bundles a release/dist pair must
// accumulate before URL index rows are written for its bundles. Below the
// threshold release-level resolution alone is cheap enough.
const IndexingThreshold = 1

// renewalThreshold is how stale an association may grow before an access
// refreshes its date_added for retention purposes.
const renewalThreshold = 30 * 24 * time.Hour

// ErrBundleNotFound is returned by single-bundle reads when no row matches.
var ErrBundleNotFound = lumerr.New(lumerr.ErrCategoryCatalog, lumerr.CodeBundleNotFound, "bundle not found")

// BundleRecord is one uploaded bundle in the registry.
type BundleRecord struct {
	ID               string
	OrganizationID   int64
	BundleID         string
	ObjectPath       string
	ArtifactCount    int64
	IndexingState    IndexingState
	DateUploaded     time.Time
	DateAdded        time.Time
	DateLastModified time.Time
}

// DebugIDRow is one (debug-id, file-type) association extracted from a
// bundle manifest. SourceFileType holds the persisted integer code.
type DebugIDRow struct {
	DebugID        string
	SourceFileType int
}

// Catalog is the bundle registry interface.
type Catalog interface {
	// RegisterBundle inserts a bundle with its project and release
	// associations in one transaction. Assigns record.ID when empty.
	RegisterBundle(ctx context.Context, record *BundleRecord, projectIDs []int64, release, dist string) error

	// GetBundle retrieves a single bundle by id.
	GetBundle(ctx context.Context, id string) (*BundleRecord, error)

	// FindByDebugID returns bundles carrying a (debug-id, file-type) row,
	// most recently added first.
	FindByDebugID(ctx context.Context, orgID int64, debugID string, sourceFileType int) ([]*BundleRecord, error)

	// FindByURL returns bundles whose URL index contains the exact url.
	FindByURL(ctx context.Context, orgID int64, url string) ([]*BundleRecord, error)

	// ListProjectBundles returns bundles associated with a project, most
	// recently added first. Used as the candidate set when no index rows
	// match.
	ListProjectBundles(ctx context.Context, orgID, projectID int64) ([]*BundleRecord, error)

	// InsertDebugIDs writes debug-id rows for an indexed bundle.
	InsertDebugIDs(ctx context.Context, orgID int64, bundleID string, rows []DebugIDRow) error

	// InsertURLs writes URL index rows for an indexed bundle.
	InsertURLs(ctx context.Context, orgID int64, bundleID string, urls []string) error

	// CountReleaseBundles counts bundles associated with a release/dist pair.
	CountReleaseBundles(ctx context.Context, orgID int64, release, dist string) (int64, error)

	// SetIndexingState flips a bundle's indexing state.
	SetIndexingState(ctx context.Context, bundleID string, state IndexingState) error

	// StoreBloomFilter persists a bundle's serialized debug-id filter.
	StoreBloomFilter(ctx context.Context, bundleID string, data []byte) error

	// GetBloomFilter reads a bundle's serialized filter; nil if none stored.
	GetBloomFilter(ctx context.Context, bundleID string) ([]byte, error)

	// RenewBundles refreshes date_added on bundles (and their association
	// rows) that have grown stale, keeping recently used bundles out of
	// TTL cleanup.
	RenewBundles(ctx context.Context, bundleIDs []string) error

	// DeleteExpired removes bundles whose date_added is past the TTL and
	// returns their object paths for storage cleanup.
	DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error)

	// Close closes the catalog database connections.
	Close() error
}

// SQLiteCatalog implements Catalog using SQLite with a single write
// connection and a concurrent read pool.
type SQLiteCatalog struct {
	db     *sql.DB // write connection (single writer)
	readDB *sql.DB // read connection pool
	dbPath string
	mu     sync.Mutex // write-only lock

	insertBundleStmt  *sql.Stmt
	insertDebugIDStmt *sql.Stmt
	insertURLStmt     *sql.Stmt
}

// NewCatalog opens (or creates) catalog.db at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &SQLiteCatalog{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	if err := c.prepareStatements(); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}

	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (c *SQLiteCatalog) prepareStatements() error {
	insertBundle, err := c.db.Prepare(`
		INSERT INTO artifact_bundles (
			id, organization_id, bundle_id, object_path,
			artifact_count, indexing_state,
			date_uploaded, date_added, date_last_modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: failed to prepare bundle insert: %w", err)
	}
	c.insertBundleStmt = insertBundle

	insertDebugID, err := c.db.Prepare(`
		INSERT OR IGNORE INTO debug_id_artifact_bundles (
			organization_id, debug_id, artifact_bundle_id, source_file_type, date_added
		) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: failed to prepare debug-id insert: %w", err)
	}
	c.insertDebugIDStmt = insertDebugID

	insertURL, err := c.db.Prepare(`
		INSERT OR IGNORE INTO artifact_bundle_url_index (
			organization_id, artifact_bundle_id, url, date_added
		) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: failed to prepare url insert: %w", err)
	}
	c.insertURLStmt = insertURL

	return nil
}

// RegisterBundle inserts the bundle row plus its project and release
// association rows atomically.
func (c *SQLiteCatalog) RegisterBundle(ctx context.Context, record *BundleRecord, projectIDs []int64, release, dist string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now()
	if record.DateUploaded.IsZero() {
		record.DateUploaded = now
	}
	if record.DateAdded.IsZero() {
		record.DateAdded = now
	}
	record.DateLastModified = now

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.StmtContext(ctx, c.insertBundleStmt).ExecContext(ctx,
		record.ID, record.OrganizationID, record.BundleID, record.ObjectPath,
		record.ArtifactCount, int(record.IndexingState),
		record.DateUploaded.Unix(), record.DateAdded.Unix(), record.DateLastModified.Unix(),
	)
	if err != nil {
		return lumerr.NewCatalogError(lumerr.CodeWriteConflict, "failed to insert bundle", err)
	}

	for _, projectID := range projectIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO project_artifact_bundles
				(organization_id, project_id, artifact_bundle_id, date_added)
			 VALUES (?, ?, ?, ?)`,
			record.OrganizationID, projectID, record.ID, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("catalog: failed to insert project association: %w", err)
		}
	}

	if release != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO release_artifact_bundles
				(organization_id, release_name, dist_name, artifact_bundle_id, date_added)
			 VALUES (?, ?, ?, ?, ?)`,
			record.OrganizationID, release, dist, record.ID, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("catalog: failed to insert release association: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit transaction: %w", err)
	}
	return nil
}

const bundleColumns = `id, organization_id, bundle_id, object_path,
	artifact_count, indexing_state, date_uploaded, date_added, date_last_modified`

// GetBundle retrieves a single bundle by id.
func (c *SQLiteCatalog) GetBundle(ctx context.Context, id string) (*BundleRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT `+bundleColumns+` FROM artifact_bundles WHERE id = ?`, id)
	record, err := scanBundleRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get bundle: %w", err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBundleRow(row rowScanner) (*BundleRecord, error) {
	var r BundleRecord
	var state int
	var uploaded, added, modified int64
	err := row.Scan(&r.ID, &r.OrganizationID, &r.BundleID, &r.ObjectPath,
		&r.ArtifactCount, &state, &uploaded, &added, &modified)
	if err != nil {
		return nil, err
	}
	r.IndexingState = IndexingState(state)
	r.DateUploaded = time.Unix(uploaded, 0)
	r.DateAdded = time.Unix(added, 0)
	r.DateLastModified = time.Unix(modified, 0)
	return &r, nil
}

func (c *SQLiteCatalog) queryBundles(ctx context.Context, query string, args ...interface{}) ([]*BundleRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query bundles: %w", err)
	}
	defer rows.Close()

	var records []*BundleRecord
	for rows.Next() {
		record, err := scanBundleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to scan bundle: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating bundles: %w", err)
	}
	return records, nil
}

// FindByDebugID returns bundles carrying the (debug-id, file-type) pair,
// most recently added first so callers can prefer the newest upload.
func (c *SQLiteCatalog) FindByDebugID(ctx context.Context, orgID int64, debugID string, sourceFileType int) ([]*BundleRecord, error) {
	return c.queryBundles(ctx,
		`SELECT b.id, b.organization_id, b.bundle_id, b.object_path,
			b.artifact_count, b.indexing_state, b.date_uploaded, b.date_added, b.date_last_modified
		 FROM artifact_bundles b
		 JOIN debug_id_artifact_bundles d ON d.artifact_bundle_id = b.id
		 WHERE d.organization_id = ? AND d.debug_id = ? AND d.source_file_type = ?
		 ORDER BY b.date_added DESC`,
		orgID, debugID, sourceFileType)
}

// FindByURL returns bundles whose URL index contains the exact url.
func (c *SQLiteCatalog) FindByURL(ctx context.Context, orgID int64, url string) ([]*BundleRecord, error) {
	return c.queryBundles(ctx,
		`SELECT b.id, b.organization_id, b.bundle_id, b.object_path,
			b.artifact_count, b.indexing_state, b.date_uploaded, b.date_added, b.date_last_modified
		 FROM artifact_bundles b
		 JOIN artifact_bundle_url_index u ON u.artifact_bundle_id = b.id
		 WHERE u.organization_id = ? AND u.url = ?
		 ORDER BY b.date_added DESC`,
		orgID, url)
}

// ListProjectBundles returns bundles associated with a project, most
// recently added first.
func (c *SQLiteCatalog) ListProjectBundles(ctx context.Context, orgID, projectID int64) ([]*BundleRecord, error) {
	return c.queryBundles(ctx,
		`SELECT b.id, b.organization_id, b.bundle_id, b.object_path,
			b.artifact_count, b.indexing_state, b.date_uploaded, b.date_added, b.date_last_modified
		 FROM artifact_bundles b
		 JOIN project_artifact_bundles p ON p.artifact_bundle_id = b.id
		 WHERE p.organization_id = ? AND p.project_id = ?
		 ORDER BY b.date_added DESC`,
		orgID, projectID)
}

// InsertDebugIDs writes debug-id rows for an indexed bundle. Duplicate rows
// are ignored so re-indexing is idempotent.
func (c *SQLiteCatalog) InsertDebugIDs(ctx context.Context, orgID int64, bundleID string, rows []DebugIDRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt := tx.StmtContext(ctx, c.insertDebugIDStmt)
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, orgID, row.DebugID, bundleID, row.SourceFileType, now); err != nil {
			return fmt.Errorf("catalog: failed to insert debug-id row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit debug-id rows: %w", err)
	}
	return nil
}

// InsertURLs writes URL index rows for an indexed bundle.
func (c *SQLiteCatalog) InsertURLs(ctx context.Context, orgID int64, bundleID string, urls []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt := tx.StmtContext(ctx, c.insertURLStmt)
	for _, url := range urls {
		if _, err := stmt.ExecContext(ctx, orgID, bundleID, url, now); err != nil {
			return fmt.Errorf("catalog: failed to insert url row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit url rows: %w", err)
	}
	return nil
}

// CountReleaseBundles counts bundles associated with a release/dist pair.
// Used to gate URL indexing on IndexingThreshold.
func (c *SQLiteCatalog) CountReleaseBundles(ctx context.Context, orgID int64, release, dist string) (int64, error) {
	var count int64
	err := c.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM release_artifact_bundles
		 WHERE organization_id = ? AND release_name = ? AND dist_name = ?`,
		orgID, release, dist,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to count release bundles: %w", err)
	}
	return count, nil
}

// SetIndexingState flips a bundle's indexing state.
func (c *SQLiteCatalog) SetIndexingState(ctx context.Context, bundleID string, state IndexingState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.ExecContext(ctx,
		`UPDATE artifact_bundles SET indexing_state = ?, date_last_modified = ? WHERE id = ?`,
		int(state), time.Now().Unix(), bundleID)
	if err != nil {
		return fmt.Errorf("catalog: failed to set indexing state: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrBundleNotFound
	}
	return nil
}

// StoreBloomFilter persists a bundle's serialized debug-id filter.
func (c *SQLiteCatalog) StoreBloomFilter(ctx context.Context, bundleID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.ExecContext(ctx,
		`UPDATE artifact_bundles SET bloom_data = ?, date_last_modified = ? WHERE id = ?`,
		data, time.Now().Unix(), bundleID)
	if err != nil {
		return fmt.Errorf("catalog: failed to store bloom filter: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrBundleNotFound
	}
	return nil
}

// GetBloomFilter reads a bundle's serialized filter. Returns nil data when
// the bundle has no filter stored yet.
func (c *SQLiteCatalog) GetBloomFilter(ctx context.Context, bundleID string) ([]byte, error) {
	var data []byte
	err := c.readDB.QueryRowContext(ctx,
		`SELECT bloom_data FROM artifact_bundles WHERE id = ?`, bundleID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read bloom filter: %w", err)
	}
	return data, nil
}

// RenewBundles refreshes date_added on stale bundles and their association
// rows so active bundles survive TTL cleanup. Bundles touched within the
// renewal threshold are left alone to keep the write cheap.
func (c *SQLiteCatalog) RenewBundles(ctx context.Context, bundleIDs []string) error {
	if len(bundleIDs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	cutoff := time.Now().Add(-renewalThreshold).Unix()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range bundleIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE artifact_bundles SET date_added = ? WHERE id = ? AND date_added <= ?`,
			now, id, cutoff); err != nil {
			return fmt.Errorf("catalog: failed to renew bundle: %w", err)
		}
		for _, table := range []string{
			"project_artifact_bundles",
			"release_artifact_bundles",
			"debug_id_artifact_bundles",
			"artifact_bundle_url_index",
		} {
			if _, err := tx.ExecContext(ctx,
				`UPDATE `+table+` SET date_added = ? WHERE artifact_bundle_id = ? AND date_added <= ?`,
				now, id, cutoff); err != nil {
				return fmt.Errorf("catalog: failed to renew %s rows: %w", table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit renewal: %w", err)
	}
	return nil
}

// DeleteExpired removes bundles whose date_added is past the TTL along with
// their association rows, and returns their object paths so the caller can
// delete the stored archives.
func (c *SQLiteCatalog) DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, object_path FROM artifact_bundles WHERE date_added < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to find expired bundles: %w", err)
	}

	var ids []string
	var paths []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("catalog: failed to scan expired bundle: %w", err)
		}
		ids = append(ids, id)
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("catalog: error iterating expired bundles: %w", err)
	}
	rows.Close()

	for _, id := range ids {
		for _, table := range []string{
			"project_artifact_bundles",
			"release_artifact_bundles",
			"debug_id_artifact_bundles",
			"artifact_bundle_url_index",
		} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE artifact_bundle_id = ?`, id); err != nil {
				return nil, fmt.Errorf("catalog: failed to delete %s rows: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM artifact_bundles WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("catalog: failed to delete bundle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: failed to commit expiry: %w", err)
	}

	if len(ids) > 0 {
		log.Printf("catalog: deleted %d expired bundles", len(ids))
	}
	return paths, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.insertBundleStmt != nil {
		c.insertBundleStmt.Close()
	}
	if c.insertDebugIDStmt != nil {
		c.insertDebugIDStmt.Close()
	}
	if c.insertURLStmt != nil {
		c.insertURLStmt.Close()
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return fmt.Errorf("catalog: failed to close read database: %w", err)
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: failed to close database: %w", err)
	}
	return nil
}
