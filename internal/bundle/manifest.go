// Package bundle provides read-only access to uploaded artifact bundles:
// ZIP archives of build artifacts (sources, minified sources, source maps)
// described by a manifest.json entry.
package bundle

import "strings"

// ManifestName is the archive entry that describes the bundle contents.
const ManifestName = "manifest.json"

// FileEntry describes a single file inside an artifact bundle.
type FileEntry struct {
	// URL is the resolved URL the file was served from.
	URL string `json:"url"`

	// Type is the lowercase source file type key (source, minified_source,
	// source_map, indexed_ram_bundle).
	Type string `json:"type"`

	// Headers carries per-file metadata such as Debug-Id and Sourcemap.
	// Header names are case-insensitive.
	Headers map[string]string `json:"headers"`
}

// Manifest is the deserialized manifest.json of an artifact bundle.
type Manifest struct {
	// DebugID is the bundle's own identifier, distinct from the per-file
	// debug ids. Optional; bundles uploaded against a release may omit it.
	DebugID string `json:"debug_id,omitempty"`

	// Files maps archive file paths to their entries. Paths are unique
	// within one manifest.
	Files map[string]FileEntry `json:"files"`
}

// NormalizeHeaders lower-cases all header keys. Manifest headers are
// case-insensitive, the in-memory indexes always work on lowercase keys.
func NormalizeHeaders(headers map[string]string) map[string]string {
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		normalized[strings.ToLower(k)] = v
	}
	return normalized
}

// debugIDHeader is the lowercase header key carrying a file's debug id.
const debugIDHeader = "debug-id"
