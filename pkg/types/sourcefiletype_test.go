package types

import "testing"

func TestSourceFileType_KeyRoundTrip(t *testing.T) {
	for _, fileType := range SourceFileTypes {
		key := fileType.Key()
		if key == "" {
			t.Fatalf("valid type %d has no key", fileType)
		}

		parsed, ok := SourceFileTypeFromKey(key)
		if !ok {
			t.Fatalf("key %q did not parse", key)
		}
		if parsed != fileType {
			t.Errorf("round trip mismatch for %q: got %d, want %d", key, parsed, fileType)
		}
	}
}

func TestSourceFileType_StableCodes(t *testing.T) {
	// Codes are persisted; changing them corrupts existing catalog rows.
	tests := []struct {
		fileType SourceFileType
		code     int
		key      string
	}{
		{SourceFileTypeSource, 1, "source"},
		{SourceFileTypeMinifiedSource, 2, "minified_source"},
		{SourceFileTypeSourceMap, 3, "source_map"},
		{SourceFileTypeIndexedRAMBundle, 4, "indexed_ram_bundle"},
	}

	for _, tt := range tests {
		if int(tt.fileType) != tt.code {
			t.Errorf("%s: code changed from %d to %d", tt.key, tt.code, int(tt.fileType))
		}
		if tt.fileType.Key() != tt.key {
			t.Errorf("code %d: key changed from %q to %q", tt.code, tt.key, tt.fileType.Key())
		}
	}
}

func TestSourceFileTypeFromKey_Unknown(t *testing.T) {
	for _, key := range []string{"", "sourcemap", "SOURCE", "wasm"} {
		fileType, ok := SourceFileTypeFromKey(key)
		if ok {
			t.Errorf("key %q should not parse", key)
		}
		if fileType != SourceFileTypeNone {
			t.Errorf("key %q: expected none, got %d", key, fileType)
		}
	}
}

func TestSourceFileType_Valid(t *testing.T) {
	if SourceFileTypeNone.Valid() {
		t.Error("none must not be valid")
	}
	if SourceFileType(99).Valid() {
		t.Error("unknown code must not be valid")
	}
	if !SourceFileTypeSourceMap.Valid() {
		t.Error("source_map must be valid")
	}
}
