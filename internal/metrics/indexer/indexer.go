// Package indexer provides the SQLite-backed string indexer that maps tag
// keys and values to the stable integer ids used in metric expressions.
package indexer

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lumenapm/lumen/internal/metrics"
)

const createStringsSQL = `
CREATE TABLE IF NOT EXISTS metric_strings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	use_case TEXT NOT NULL,
	organization_id INTEGER NOT NULL,
	string TEXT NOT NULL,
	UNIQUE (use_case, organization_id, string)
);
`

// Store is a SQLite-backed tag resolver. Each (use case, org,
// string) triple gets one id on first use and keeps it forever.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// valuesAreStrings skips value indexing entirely and passes tag
	// values through as raw strings.
	valuesAreStrings bool
}

// NewStore opens (or creates) the string indexer database at dbPath.
func NewStore(dbPath string, valuesAreStrings bool) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("indexer: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(createStringsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexer: failed to create schema: %w", err)
	}

	return &Store{db: db, valuesAreStrings: valuesAreStrings}, nil
}

// Close closes the indexer database.
func (s *Store) Close() error {
	return s.db.Close()
}

// resolve returns the id for a string, assigning one if the string was
// never seen.
func (s *Store) resolve(useCase metrics.UseCase, orgID int64, str string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM metric_strings WHERE use_case = ? AND organization_id = ? AND string = ?`,
		string(useCase), orgID, str,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("indexer: failed to look up string: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO metric_strings (use_case, organization_id, string) VALUES (?, ?, ?)`,
		string(useCase), orgID, str,
	)
	if err != nil {
		return 0, fmt.Errorf("indexer: failed to index string: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("indexer: failed to read assigned id: %w", err)
	}
	return id, nil
}

// ResolveTagKey returns the backend column expression for a tag key.
func (s *Store) ResolveTagKey(useCase metrics.UseCase, orgID int64, name string) (string, error) {
	id, err := s.resolve(useCase, orgID, name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tags[%d]", id), nil
}

// ResolveTagValue returns the stored representation of a tag value: the
// raw string in string-values mode, the indexed id otherwise.
func (s *Store) ResolveTagValue(useCase metrics.UseCase, orgID int64, value string) (interface{}, error) {
	if s.valuesAreStrings {
		return value, nil
	}
	return s.resolve(useCase, orgID, value)
}

// ResolveTagValues resolves a list of tag values, preserving order.
func (s *Store) ResolveTagValues(useCase metrics.UseCase, orgID int64, values []string) ([]interface{}, error) {
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

// ReverseResolveWeak returns the string indexed under an id, or the empty
// string when the id was never assigned.
func (s *Store) ReverseResolveWeak(useCase metrics.UseCase, orgID int64, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var str string
	err := s.db.QueryRow(
		`SELECT string FROM metric_strings WHERE use_case = ? AND organization_id = ? AND id = ?`,
		string(useCase), orgID, id,
	).Scan(&str)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("indexer: failed to reverse resolve id %d: %w", id, err)
	}
	return str, nil
}

// Record indexes an MRI so later reverse resolution can find it; the
// assigned id is returned for callers building metric_id filters.
func (s *Store) Record(useCase metrics.UseCase, orgID int64, mri string) (int64, error) {
	return s.resolve(useCase, orgID, mri)
}

var _ metrics.TagResolver = (*Store)(nil)
