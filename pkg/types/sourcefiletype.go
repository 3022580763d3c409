package types

// SourceFileType classifies a file entry inside an artifact bundle.
// The integer codes are persisted in the catalog and must stay stable;
// the lowercase keys are what bundle manifests use.
type SourceFileType int

const (
	// SourceFileTypeNone is the zero value for unrecognized manifest keys.
	SourceFileTypeNone SourceFileType = 0

	SourceFileTypeSource           SourceFileType = 1
	SourceFileTypeMinifiedSource   SourceFileType = 2
	SourceFileTypeSourceMap        SourceFileType = 3
	SourceFileTypeIndexedRAMBundle SourceFileType = 4
)

// SourceFileTypes lists all valid source file types in code order.
var SourceFileTypes = []SourceFileType{
	SourceFileTypeSource,
	SourceFileTypeMinifiedSource,
	SourceFileTypeSourceMap,
	SourceFileTypeIndexedRAMBundle,
}

// SourceFileTypeFromKey maps a lowercase manifest key to its SourceFileType.
// Unknown keys return SourceFileTypeNone and ok=false.
func SourceFileTypeFromKey(key string) (SourceFileType, bool) {
	switch key {
	case "source":
		return SourceFileTypeSource, true
	case "minified_source":
		return SourceFileTypeMinifiedSource, true
	case "source_map":
		return SourceFileTypeSourceMap, true
	case "indexed_ram_bundle":
		return SourceFileTypeIndexedRAMBundle, true
	default:
		return SourceFileTypeNone, false
	}
}

// Key returns the lowercase manifest key for the type. The mapping is the
// exact inverse of SourceFileTypeFromKey; an unknown code yields "".
func (t SourceFileType) Key() string {
	switch t {
	case SourceFileTypeSource:
		return "source"
	case SourceFileTypeMinifiedSource:
		return "minified_source"
	case SourceFileTypeSourceMap:
		return "source_map"
	case SourceFileTypeIndexedRAMBundle:
		return "indexed_ram_bundle"
	default:
		return ""
	}
}

// Valid reports whether t is one of the known source file types.
func (t SourceFileType) Valid() bool {
	return t.Key() != ""
}
