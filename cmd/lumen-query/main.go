// Package main implements the lumen-query tool: it builds a named metric
// aggregate expression against a local threshold and indexer database and
// prints the rendered form, for inspecting what a deployment would emit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lumenapm/lumen/internal/config"
	"github.com/lumenapm/lumen/internal/metrics"
	"github.com/lumenapm/lumen/internal/metrics/indexer"
	"github.com/lumenapm/lumen/internal/thresholds"
)

func main() {
	var (
		dataDir    string
		field      string
		orgID      int64
		projects   string
		metricIDs  string
		alias      string
		asJSON     bool
		stringVals bool
	)

	flag.StringVar(&dataDir, "data-dir", "./data/lumen", "Base directory holding thresholds.db and indexer.db")
	flag.StringVar(&field, "field", "", "Aggregate field to build (e.g. failure_count_transactions)")
	flag.Int64Var(&orgID, "org", 1, "Organization id")
	flag.StringVar(&projects, "projects", "", "Comma-separated project ids (for threshold-backed fields)")
	flag.StringVar(&metricIDs, "metrics", "", "Comma-separated metric ids")
	flag.StringVar(&alias, "alias", "", "Expression alias (defaults to the field name)")
	flag.BoolVar(&asJSON, "json", false, "Print the expression tree as JSON instead of rendered form")
	flag.BoolVar(&stringVals, "string-values", false, "Treat tag values as raw strings")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lumen-query --field <name> --metrics <ids> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lumen-query --field all_sessions --metrics 42\n")
		fmt.Fprintf(os.Stderr, "  lumen-query --field satisfaction_count_transactions --metrics 1,2 --projects 10,11\n")
	}
	flag.Parse()

	if field == "" || metricIDs == "" {
		flag.Usage()
		os.Exit(2)
	}

	ids, err := parseIDs(metricIDs)
	if err != nil {
		fatalf("invalid --metrics: %v", err)
	}
	projectIDs, err := parseIDs(projects)
	if err != nil {
		fatalf("invalid --projects: %v", err)
	}
	if alias == "" {
		alias = field
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Resolve()

	thrStore, err := thresholds.NewStore(cfg.ThresholdsPath())
	if err != nil {
		fatalf("%v", err)
	}
	defer thrStore.Close()

	tagStore, err := indexer.NewStore(cfg.IndexerPath(), stringVals)
	if err != nil {
		fatalf("%v", err)
	}
	defer tagStore.Close()

	resolver := metrics.NewThresholdResolver(thrStore, tagStore)
	builder := metrics.NewBuilder(tagStore, resolver, stringVals)

	fn, err := buildField(builder, field, orgID, projectIDs, ids, alias)
	if err != nil {
		fatalf("%v", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fn); err != nil {
			fatalf("%v", err)
		}
		return
	}
	fmt.Println(fn.String())
}

func buildField(b *metrics.Builder, field string, orgID int64, projectIDs, metricIDs []int64, alias string) (fmt.Stringer, error) {
	switch field {
	case "all_sessions":
		return b.AllSessions(orgID, metricIDs, alias)
	case "crashed_sessions":
		return b.CrashedSessions(orgID, metricIDs, alias)
	case "abnormal_sessions":
		return b.AbnormalSessions(orgID, metricIDs, alias)
	case "errored_preaggr_sessions":
		return b.ErroredPreaggrSessions(orgID, metricIDs, alias)
	case "all_users":
		return b.AllUsers(orgID, metricIDs, alias)
	case "crashed_users":
		return b.CrashedUsers(orgID, metricIDs, alias)
	case "abnormal_users":
		return b.AbnormalUsers(orgID, metricIDs, alias)
	case "errored_all_users":
		return b.ErroredAllUsers(orgID, metricIDs, alias)
	case "all_transactions":
		return b.AllTransactions(orgID, metricIDs, alias)
	case "failure_count_transactions":
		return b.FailureCountTransactions(orgID, metricIDs, alias)
	case "satisfaction_count_transactions":
		return b.SatisfactionCountTransactions(context.Background(), orgID, projectIDs, metricIDs, alias)
	case "tolerated_count_transactions":
		return b.ToleratedCountTransactions(orgID, metricIDs, alias)
	case "miserable_users":
		return b.MiserableUsers(orgID, metricIDs, alias)
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}
}

func parseIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "lumen-query: "+format+"\n", args...)
	os.Exit(1)
}
