package metrics

import (
	"context"
	"fmt"

	lumerr "github.com/lumenapm/lumen/internal/errors"
	"github.com/lumenapm/lumen/internal/metrics/expr"
)

// Global defaults applied when a project has no threshold configuration.
const (
	DefaultProjectThreshold       int64 = 300
	DefaultProjectThresholdMetric       = "duration"
)

// MaxQueryableTransactionThresholds caps the combined number of project and
// override threshold rows one resolution may fan out into. The generated
// expression embeds every surviving row as a literal, so an unbounded row
// count would let a single query balloon without limit.
const MaxQueryableTransactionThresholds = 500

// Aliases attached to the generated threshold expressions.
const (
	AliasProjectThresholdConfig              = "project_threshold_config"
	AliasProjectThresholdConfigIndex         = "project_threshold_config_index"
	AliasProjectThresholdOverrideConfigIndex = "project_threshold_override_config_index"
)

// ThresholdMetric is the persisted integer code for the metric a
// transaction threshold applies to.
type ThresholdMetric int

const (
	ThresholdMetricDuration ThresholdMetric = 1
	ThresholdMetricLCP      ThresholdMetric = 2
)

// Key returns the metric name embedded in generated expressions, or ""
// for an unknown code.
func (m ThresholdMetric) Key() string {
	switch m {
	case ThresholdMetricDuration:
		return "duration"
	case ThresholdMetricLCP:
		return "lcp"
	default:
		return ""
	}
}

// ProjectThreshold is a project-level threshold row.
type ProjectThreshold struct {
	ProjectID int64
	Threshold int64
	Metric    ThresholdMetric
}

// TransactionThreshold is a per-transaction override of a project threshold.
type TransactionThreshold struct {
	Transaction string
	ProjectID   int64
	Threshold   int64
	Metric      ThresholdMetric
}

// ThresholdStore reads threshold configuration rows. Implementations must
// return rows in a stable order (project id, then transaction name) since
// row order fixes the layout of the generated lookup arrays.
type ThresholdStore interface {
	ProjectThresholds(ctx context.Context, orgID int64, projectIDs []int64) ([]ProjectThreshold, error)
	TransactionThresholds(ctx context.Context, orgID int64, projectIDs []int64) ([]TransactionThreshold, error)
}

// ThresholdResolver compresses threshold configuration into parallel-array
// lookup expressions. Each Resolve call reads the store fresh and holds no
// state across calls.
type ThresholdResolver struct {
	store ThresholdStore
	tags  TagResolver
}

func NewThresholdResolver(store ThresholdStore, tags TagResolver) *ThresholdResolver {
	return &ThresholdResolver{store: store, tags: tags}
}

type thresholdPair struct {
	metric    string
	threshold int64
}

// Resolve builds the expression selecting the applicable (metric, threshold)
// pair per row at query-evaluation time. Override rows take precedence over
// project rows, which take precedence over the global default. Rows equal to
// the value one layer up are pruned; the fallback branch already encodes
// them. The backend's array indexing is 1-based, so indexOf returning 0
// means "not found" and routes to the fallback branch.
func (r *ThresholdResolver) Resolve(ctx context.Context, orgID int64, projectIDs []int64) (*expr.Function, error) {
	projectRows, err := r.store.ProjectThresholds(ctx, orgID, projectIDs)
	if err != nil {
		return nil, lumerr.Wrap(lumerr.ErrCategoryThreshold, lumerr.CodeResolutionFailed, "loading project thresholds", err)
	}
	overrideRows, err := r.store.TransactionThresholds(ctx, orgID, projectIDs)
	if err != nil {
		return nil, lumerr.Wrap(lumerr.ErrCategoryThreshold, lumerr.CodeResolutionFailed, "loading transaction thresholds", err)
	}

	if len(projectRows)+len(overrideRows) > MaxQueryableTransactionThresholds {
		return nil, lumerr.NewThresholdError(
			lumerr.CodeTooManyThresholds,
			fmt.Sprintf("exceeded %d configured transaction thresholds limit, try with fewer projects", MaxQueryableTransactionThresholds),
		)
	}

	// Keys get a toUInt64 cast because the backend types array literals as
	// the narrowest type that fits, and a narrowed key array would fail the
	// comparison against the UInt64 project_id column.
	projectThresholds := make(map[int64]thresholdPair, len(projectRows))
	var projectKeys, projectValues []expr.Expression
	for _, row := range projectRows {
		metric := row.Metric.Key()
		if row.Threshold == DefaultProjectThreshold && metric == DefaultProjectThresholdMetric {
			// Equal to the global default, the fallback branch covers it.
			continue
		}
		projectThresholds[row.ProjectID] = thresholdPair{metric: metric, threshold: row.Threshold}
		projectKeys = append(projectKeys, expr.NewFunction("toUInt64", expr.Int(row.ProjectID)))
		projectValues = append(projectValues, expr.NewTuple(expr.Str(metric), expr.Int(row.Threshold)))
	}

	var overrideKeys, overrideValues []expr.Expression
	for _, row := range overrideRows {
		metric := row.Metric.Key()
		if parent, ok := projectThresholds[row.ProjectID]; ok {
			if row.Threshold == parent.threshold && metric == parent.metric {
				// Equal to the project-level config, prune.
				continue
			}
		} else if row.Threshold == DefaultProjectThreshold && metric == DefaultProjectThresholdMetric {
			// No project config and equal to the global default, prune.
			continue
		}
		overrideKeys = append(overrideKeys, expr.NewTuple(
			expr.NewFunction("toUInt64", expr.Int(row.ProjectID)),
			expr.Str(row.Transaction),
		))
		overrideValues = append(overrideValues, expr.NewTuple(expr.Str(metric), expr.Int(row.Threshold)))
	}

	defaultPair := func() *expr.Tuple {
		return expr.NewTuple(expr.Str(DefaultProjectThresholdMetric), expr.Int(DefaultProjectThreshold))
	}

	projectConfig := func(alias string) *expr.Function {
		if len(projectKeys) == 0 {
			return expr.NewAliasedFunction("tuple", alias,
				expr.Str(DefaultProjectThresholdMetric), expr.Int(DefaultProjectThreshold))
		}
		index := expr.NewAliasedFunction("indexOf", AliasProjectThresholdConfigIndex,
			expr.NewList(projectKeys...),
			expr.NewColumn("project_id"),
		)
		return expr.NewAliasedFunction("if", alias,
			expr.NewFunction("equals", index, expr.Int(0)),
			defaultPair(),
			expr.NewFunction("arrayElement", expr.NewList(projectValues...), index),
		)
	}

	if len(overrideKeys) == 0 {
		return projectConfig(AliasProjectThresholdConfig), nil
	}

	txKey, err := r.tags.ResolveTagKey(UseCasePerformance, orgID, TagTransaction)
	if err != nil {
		return nil, lumerr.Wrap(lumerr.ErrCategoryThreshold, lumerr.CodeResolutionFailed, "resolving transaction tag key", err)
	}
	overrideIndex := expr.NewAliasedFunction("indexOf", AliasProjectThresholdOverrideConfigIndex,
		expr.NewList(overrideKeys...),
		expr.NewTuple(expr.NewColumn("project_id"), expr.NewColumn(txKey)),
	)
	return expr.NewAliasedFunction("if", AliasProjectThresholdConfig,
		expr.NewFunction("equals", overrideIndex, expr.Int(0)),
		projectConfig(""),
		expr.NewFunction("arrayElement", expr.NewList(overrideValues...), overrideIndex),
	), nil
}
