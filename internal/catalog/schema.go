// Package catalog provides the SQLite registry for uploaded artifact
// bundles and their lookup associations (catalog.db). It is the source of
// truth for which bundles exist, which projects and releases they belong
// to, and which debug-ids and URLs they can serve.
package catalog

// CreateArtifactBundlesTableSQL creates the core bundles table. One row per
// uploaded bundle; bloom_data holds the serialized debug-id filter written
// by the indexing pipeline.
const CreateArtifactBundlesTableSQL = `
CREATE TABLE IF NOT EXISTS artifact_bundles (
    id TEXT PRIMARY KEY,
    organization_id INTEGER NOT NULL,
    bundle_id TEXT NOT NULL,
    object_path TEXT NOT NULL,
    artifact_count INTEGER NOT NULL,
    indexing_state INTEGER NOT NULL DEFAULT 0,
    bloom_data BLOB,
    date_uploaded INTEGER NOT NULL,
    date_added INTEGER NOT NULL,
    date_last_modified INTEGER NOT NULL
)`

// CreateProjectBundlesTableSQL associates bundles with the projects that may
// query them.
const CreateProjectBundlesTableSQL = `
CREATE TABLE IF NOT EXISTS project_artifact_bundles (
    organization_id INTEGER NOT NULL,
    project_id INTEGER NOT NULL,
    artifact_bundle_id TEXT NOT NULL,
    date_added INTEGER NOT NULL,
    PRIMARY KEY (project_id, artifact_bundle_id),
    FOREIGN KEY (artifact_bundle_id) REFERENCES artifact_bundles(id)
)`

// CreateReleaseBundlesTableSQL associates bundles with a release/dist pair.
// dist defaults to the empty string so the pair is always a usable key.
const CreateReleaseBundlesTableSQL = `
CREATE TABLE IF NOT EXISTS release_artifact_bundles (
    organization_id INTEGER NOT NULL,
    release_name TEXT NOT NULL,
    dist_name TEXT NOT NULL DEFAULT '',
    artifact_bundle_id TEXT NOT NULL,
    date_added INTEGER NOT NULL,
    PRIMARY KEY (organization_id, release_name, dist_name, artifact_bundle_id),
    FOREIGN KEY (artifact_bundle_id) REFERENCES artifact_bundles(id)
)`

// CreateDebugIDBundlesTableSQL maps (debug_id, source_file_type) pairs to
// the bundles that contain them. source_file_type stores the persisted
// integer code.
const CreateDebugIDBundlesTableSQL = `
CREATE TABLE IF NOT EXISTS debug_id_artifact_bundles (
    organization_id INTEGER NOT NULL,
    debug_id TEXT NOT NULL,
    artifact_bundle_id TEXT NOT NULL,
    source_file_type INTEGER NOT NULL,
    date_added INTEGER NOT NULL,
    PRIMARY KEY (debug_id, artifact_bundle_id, source_file_type),
    FOREIGN KEY (artifact_bundle_id) REFERENCES artifact_bundles(id)
)`

// CreateURLIndexTableSQL maps manifest URLs to bundles. Rows exist only for
// bundles whose release crossed the URL-indexing threshold.
const CreateURLIndexTableSQL = `
CREATE TABLE IF NOT EXISTS artifact_bundle_url_index (
    organization_id INTEGER NOT NULL,
    artifact_bundle_id TEXT NOT NULL,
    url TEXT NOT NULL,
    date_added INTEGER NOT NULL,
    PRIMARY KEY (artifact_bundle_id, url),
    FOREIGN KEY (artifact_bundle_id) REFERENCES artifact_bundles(id)
)`

// CreateCatalogIndexesSQL creates the lookup indexes backing the query
// paths: debug-id resolution, URL resolution, release gating, and
// TTL cleanup.
var CreateCatalogIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_debug_id_lookup ON debug_id_artifact_bundles(organization_id, debug_id, source_file_type)`,

	`CREATE INDEX IF NOT EXISTS idx_url_lookup ON artifact_bundle_url_index(organization_id, url)`,

	`CREATE INDEX IF NOT EXISTS idx_release_lookup ON release_artifact_bundles(organization_id, release_name, dist_name)`,

	`CREATE INDEX IF NOT EXISTS idx_project_lookup ON project_artifact_bundles(organization_id, project_id)`,

	`CREATE INDEX IF NOT EXISTS idx_bundles_date_added ON artifact_bundles(date_added)`,
}

// AllSchemaSQL returns every statement needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateArtifactBundlesTableSQL,
		CreateProjectBundlesTableSQL,
		CreateReleaseBundlesTableSQL,
		CreateDebugIDBundlesTableSQL,
		CreateURLIndexTableSQL,
	}
	statements = append(statements, CreateCatalogIndexesSQL...)
	return statements
}
