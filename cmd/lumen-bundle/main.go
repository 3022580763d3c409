// Package main implements the lumen-bundle inspection tool: it opens an
// artifact bundle zip and prints its manifest, debug-ids, or a single
// file's content without touching a catalog or object storage.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/lumenapm/lumen/internal/bundle"
	"github.com/lumenapm/lumen/pkg/types"
)

func main() {
	var (
		list     bool
		debugIDs bool
		search   string
		extract  string
		byID     string
		fileType string
	)

	flag.BoolVar(&list, "list", false, "List all manifest entries")
	flag.BoolVar(&debugIDs, "debug-ids", false, "Print the distinct (type, debug-id) pairs")
	flag.StringVar(&search, "search", "", "Search entries by URL or debug-id substring")
	flag.StringVar(&extract, "extract", "", "Print the content of an archive path to stdout")
	flag.StringVar(&byID, "by-id", "", "Print the content of the file with this debug-id")
	flag.StringVar(&fileType, "type", "source_map", "Source file type for --by-id lookups")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lumen-bundle [options] <bundle.zip>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lumen-bundle --list bundle.zip\n")
		fmt.Fprintf(os.Stderr, "  lumen-bundle --search app.js bundle.zip\n")
		fmt.Fprintf(os.Stderr, "  lumen-bundle --by-id 2b69e5bd-2e98-4c57-8ce1-b58da19110ae --type source_map bundle.zip\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	archive, err := bundle.OpenFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "lumen-bundle: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	switch {
	case list:
		printEntries(archive.Files())
	case debugIDs:
		printDebugIDs(archive)
	case search != "":
		printEntries(archive.SearchByURLOrDebugID(search))
	case extract != "":
		printContent(archive.File(extract))
	case byID != "":
		ft, ok := types.SourceFileTypeFromKey(fileType)
		if !ok {
			fmt.Fprintf(os.Stderr, "lumen-bundle: unknown file type %q\n", fileType)
			os.Exit(2)
		}
		printContent(archive.FileByDebugID(byID, ft))
	default:
		printSummary(archive)
	}
}

func printSummary(archive *bundle.Archive) {
	if id, ok := archive.BundleID(); ok {
		fmt.Printf("bundle id:      %s\n", id)
	}
	fmt.Printf("artifact count: %d\n", archive.ArtifactCount())

	_, ids := archive.ExtractDebugIDs()
	fmt.Printf("debug-id pairs: %d\n", len(ids))
}

func printEntries(entries map[string]bundle.FileEntry) {
	paths := make([]string, 0, len(entries))
	for path := range entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := entries[path]
		fmt.Printf("%-20s %s", entry.Type, path)
		if entry.URL != "" {
			fmt.Printf("  (%s)", entry.URL)
		}
		fmt.Println()
	}
}

func printDebugIDs(archive *bundle.Archive) {
	_, ids := archive.ExtractDebugIDs()

	lines := make([]string, 0, len(ids))
	for typed := range ids {
		lines = append(lines, fmt.Sprintf("%-20s %s", typed.FileType.Key(), typed.DebugID))
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Println(line)
	}
}

func printContent(rc io.ReadCloser, headers map[string]string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "lumen-bundle: %v\n", err)
		os.Exit(1)
	}
	defer rc.Close()

	for k, v := range headers {
		fmt.Fprintf(os.Stderr, "%s: %s\n", k, v)
	}
	if _, err := io.Copy(os.Stdout, rc); err != nil {
		fmt.Fprintf(os.Stderr, "lumen-bundle: %v\n", err)
		os.Exit(1)
	}
}
