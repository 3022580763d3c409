package metrics

import (
	"context"
	"fmt"

	lumerr "github.com/lumenapm/lumen/internal/errors"
	"github.com/lumenapm/lumen/internal/metrics/expr"
)

// aggregateOp names the conditional aggregate a factory wraps.
type aggregateOp string

const (
	opSumIf   aggregateOp = "sumIf"
	opUniqIf  aggregateOp = "uniqIf"
	opCountIf aggregateOp = "countIf"
)

// Builder assembles aggregate expressions for the analytics backend. Every
// factory is pure with respect to the expression tree and produces
// structurally identical output for identical inputs; the only external
// reads are tag resolution and, for satisfaction aggregates, threshold
// configuration.
type Builder struct {
	tags       TagResolver
	thresholds *ThresholdResolver

	// tagValuesAreStrings controls whether a missing transaction name is
	// stored as "" or as 0 in the backend.
	tagValuesAreStrings bool
}

func NewBuilder(tags TagResolver, thresholds *ThresholdResolver, tagValuesAreStrings bool) *Builder {
	return &Builder{tags: tags, thresholds: thresholds, tagValuesAreStrings: tagValuesAreStrings}
}

// metricIDFilter builds in(metric_id, [...]).
func metricIDFilter(metricIDs []int64) *expr.Function {
	return expr.NewFunction("in", expr.NewColumn("metric_id"), expr.IntList(metricIDs))
}

// sessionStatusAggregation returns a factory for aggregates conditioned on
// one session.status value. The shared skeleton is
// op(value, and(equals(status_tag, status), in(metric_id, ids))).
func (b *Builder) sessionStatusAggregation(op aggregateOp) func(orgID int64, status string, metricIDs []int64, alias string) (*expr.Function, error) {
	return func(orgID int64, status string, metricIDs []int64, alias string) (*expr.Function, error) {
		key, err := b.tags.ResolveTagKey(UseCaseReleaseHealth, orgID, TagSessionStatus)
		if err != nil {
			return nil, err
		}
		value, err := b.tags.ResolveTagValue(UseCaseReleaseHealth, orgID, status)
		if err != nil {
			return nil, err
		}
		return expr.NewAliasedFunction(string(op), alias,
			expr.NewColumn("value"),
			expr.NewFunction("and",
				expr.NewFunction("equals", expr.NewColumn(key), expr.Value(value)),
				metricIDFilter(metricIDs),
			),
		), nil
	}
}

// txStatusAggregation returns a factory for aggregates conditioned on
// transaction.status NOT being in an exclusion set. An empty exclusion set
// degenerates to the plain metric-id filter.
func (b *Builder) txStatusAggregation(op aggregateOp) func(orgID int64, excludeStatuses []string, metricIDs []int64, alias string) (*expr.Function, error) {
	return func(orgID int64, excludeStatuses []string, metricIDs []int64, alias string) (*expr.Function, error) {
		conditions := expr.Expression(metricIDFilter(metricIDs))
		if len(excludeStatuses) > 0 {
			key, err := b.tags.ResolveTagKey(UseCasePerformance, orgID, TagTransactionStatus)
			if err != nil {
				return nil, err
			}
			values, err := b.tags.ResolveTagValues(UseCasePerformance, orgID, excludeStatuses)
			if err != nil {
				return nil, err
			}
			conditions = expr.NewFunction("and",
				conditions,
				expr.NewFunction("notIn", expr.NewColumn(key), expr.ValueList(values)),
			)
		}
		return expr.NewAliasedFunction(string(op), alias, expr.NewColumn("value"), conditions), nil
	}
}

// txSatisfactionAggregation returns a factory for aggregates conditioned on
// one transaction satisfaction value.
func (b *Builder) txSatisfactionAggregation(op aggregateOp) func(orgID int64, satisfaction string, metricIDs []int64, alias string) (*expr.Function, error) {
	return func(orgID int64, satisfaction string, metricIDs []int64, alias string) (*expr.Function, error) {
		key, err := b.tags.ResolveTagKey(UseCasePerformance, orgID, TagTransactionSatisfaction)
		if err != nil {
			return nil, err
		}
		value, err := b.tags.ResolveTagValue(UseCasePerformance, orgID, satisfaction)
		if err != nil {
			return nil, err
		}
		return expr.NewAliasedFunction(string(op), alias,
			expr.NewColumn("value"),
			expr.NewFunction("and",
				expr.NewFunction("equals", expr.NewColumn(key), expr.Value(value)),
				metricIDFilter(metricIDs),
			),
		), nil
	}
}

// Session-status aggregates.

func (b *Builder) AllSessions(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.sessionStatusAggregation(opSumIf)(orgID, SessionStatusInit, metricIDs, alias)
}

func (b *Builder) CrashedSessions(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.sessionStatusAggregation(opSumIf)(orgID, SessionStatusCrashed, metricIDs, alias)
}

func (b *Builder) AbnormalSessions(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.sessionStatusAggregation(opSumIf)(orgID, SessionStatusAbnormal, metricIDs, alias)
}

func (b *Builder) ErroredPreaggrSessions(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.sessionStatusAggregation(opSumIf)(orgID, SessionStatusErroredPreaggr, metricIDs, alias)
}

func (b *Builder) AllUsers(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return UniqAggregationOnMetric(metricIDs, alias), nil
}

func (b *Builder) CrashedUsers(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.sessionStatusAggregation(opUniqIf)(orgID, SessionStatusCrashed, metricIDs, alias)
}

func (b *Builder) AbnormalUsers(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.sessionStatusAggregation(opUniqIf)(orgID, SessionStatusAbnormal, metricIDs, alias)
}

func (b *Builder) ErroredAllUsers(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.sessionStatusAggregation(opUniqIf)(orgID, SessionStatusErrored, metricIDs, alias)
}

// UniqAggregationOnMetric counts distinct values across a set of metric ids
// with no tag condition.
func UniqAggregationOnMetric(metricIDs []int64, alias string) *expr.Function {
	return expr.NewAliasedFunction("uniqIf", alias,
		expr.NewColumn("value"),
		metricIDFilter(metricIDs),
	)
}

// Transaction-status aggregates.

func (b *Builder) AllTransactions(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.txStatusAggregation(opCountIf)(orgID, nil, metricIDs, alias)
}

// FailureCountTransactions counts transactions whose status is anything
// other than ok, cancelled, or unknown. Failure is defined by exclusion so
// that a status value never seen before counts as a failure until it is
// explicitly added to FailureExcludedStatuses.
func (b *Builder) FailureCountTransactions(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.txStatusAggregation(opCountIf)(orgID, FailureExcludedStatuses, metricIDs, alias)
}

// SatisfactionCountTransactions counts satisfied transactions, selecting the
// underlying metric per row: measurements.lcp where the resolved threshold
// config says "lcp", transaction duration otherwise. metricIDs must contain
// the ids of both candidate metrics.
func (b *Builder) SatisfactionCountTransactions(ctx context.Context, orgID int64, projectIDs []int64, metricIDs []int64, alias string) (*expr.Function, error) {
	idsByMRI := make(map[string]int64, len(metricIDs))
	for _, id := range metricIDs {
		mri, err := b.tags.ReverseResolveWeak(UseCasePerformance, orgID, id)
		if err != nil {
			return nil, err
		}
		idsByMRI[mri] = id
	}
	lcpID, ok := idsByMRI[MRIMeasurementsLCP]
	if !ok {
		return nil, lumerr.NewValidationError(lumerr.CodeInvalidParams,
			fmt.Sprintf("satisfaction count requires the %s metric id", MRIMeasurementsLCP))
	}
	durationID, ok := idsByMRI[MRITransactionDuration]
	if !ok {
		return nil, lumerr.NewValidationError(lumerr.CodeInvalidParams,
			fmt.Sprintf("satisfaction count requires the %s metric id", MRITransactionDuration))
	}

	thresholdConfig, err := b.thresholds.Resolve(ctx, orgID, projectIDs)
	if err != nil {
		return nil, err
	}

	return expr.NewAliasedFunction("countIf", alias,
		expr.NewColumn("value"),
		expr.NewFunction("and",
			expr.NewFunction("equals",
				expr.NewColumn("metric_id"),
				expr.NewFunction("multiIf",
					expr.NewFunction("equals",
						expr.NewFunction("tupleElement", thresholdConfig, expr.Int(1)),
						expr.Str("lcp"),
					),
					expr.Int(lcpID),
					expr.Int(durationID),
				),
			),
		),
	), nil
}

func (b *Builder) ToleratedCountTransactions(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.txSatisfactionAggregation(opCountIf)(orgID, SatisfactionTolerated, metricIDs, alias)
}

func (b *Builder) MiserableUsers(orgID int64, metricIDs []int64, alias string) (*expr.Function, error) {
	return b.txSatisfactionAggregation(opUniqIf)(orgID, SatisfactionFrustrated, metricIDs, alias)
}

// Derived arithmetic combinators. These are pure expression algebra with no
// external reads.

// Apdex is (satisfactory + tolerable/2) / total.
func Apdex(satisfactory, tolerable, total expr.Expression, alias string) *expr.Function {
	return DivisionFloat(
		Addition(satisfactory, DivisionFloat(tolerable, expr.Int(2), ""), ""),
		total,
		alias,
	)
}

func Addition(a, b expr.Expression, alias string) *expr.Function {
	return expr.NewAliasedFunction("plus", alias, a, b)
}

func Subtraction(a, b expr.Expression, alias string) *expr.Function {
	return expr.NewAliasedFunction("minus", alias, a, b)
}

// DivisionFloat divides two expressions. The backend yields inf/nan rather
// than erroring on a zero denominator, so no guard is emitted here.
func DivisionFloat(a, b expr.Expression, alias string) *expr.Function {
	return expr.NewAliasedFunction("divide", alias, a, b)
}

// Complement is 1 - x.
func Complement(x expr.Expression, alias string) *expr.Function {
	return expr.NewAliasedFunction("minus", alias, expr.Float(1.0), x)
}

// SessionDurationFilters restricts duration aggregates to cleanly exited
// sessions.
func (b *Builder) SessionDurationFilters(orgID int64) ([]expr.Expression, error) {
	key, err := b.tags.ResolveTagKey(UseCaseReleaseHealth, orgID, TagSessionStatus)
	if err != nil {
		return nil, err
	}
	value, err := b.tags.ResolveTagValue(UseCaseReleaseHealth, orgID, SessionStatusExited)
	if err != nil {
		return nil, err
	}
	return []expr.Expression{
		expr.NewFunction("equals", expr.NewColumn(key), expr.Value(value)),
	}, nil
}

// Rate builds count-per-interval: countIf(value, filter) / (numerator /
// denominator). numerator is the window length in seconds; denominator
// rescales to the desired unit (e.g. 60 for per-minute).
func Rate(aggregateFilter expr.Expression, numerator float64, denominator float64, alias string) *expr.Function {
	return expr.NewAliasedFunction("divide", alias,
		expr.NewFunction("countIf", expr.NewColumn("value"), aggregateFilter),
		expr.NewFunction("divide", expr.Float(numerator), expr.Float(denominator)),
	)
}

// CountWebVitals counts measurements carrying a given rating
// (good/meh/poor) under the caller's filter.
func (b *Builder) CountWebVitals(aggregateFilter expr.Expression, orgID int64, measurementRating string, alias string) (*expr.Function, error) {
	key, err := b.tags.ResolveTagKey(UseCasePerformance, orgID, TagMeasurementRating)
	if err != nil {
		return nil, err
	}
	value, err := b.tags.ResolveTagValue(UseCasePerformance, orgID, measurementRating)
	if err != nil {
		return nil, err
	}
	return expr.NewAliasedFunction("countIf", alias,
		expr.NewColumn("value"),
		expr.NewFunction("and",
			aggregateFilter,
			expr.NewFunction("equals", expr.NewColumn(key), expr.Value(value)),
		),
	), nil
}

// CountTransactionName counts rows classified by the transaction-name
// identifier: is_unparameterized, is_null, or has_value (neither of the
// first two). Any other identifier is an invalid-parameter error, it means
// the call site is broken rather than the data.
func (b *Builder) CountTransactionName(aggregateFilter expr.Expression, orgID int64, identifier string, alias string) (*expr.Function, error) {
	nameFilter := func(operation, id string) (*expr.Function, error) {
		var inner expr.Expression
		switch id {
		case TransactionNameIsUnparameterized:
			value, err := b.tags.ResolveTagValue(UseCasePerformance, orgID, UnparameterizedTransaction)
			if err != nil {
				return nil, err
			}
			inner = expr.Value(value)
		case TransactionNameIsNull:
			if b.tagValuesAreStrings {
				inner = expr.Str("")
			} else {
				inner = expr.Int(0)
			}
		default:
			return nil, lumerr.NewValidationError(lumerr.CodeInvalidParams, "invalid condition for tag value filter")
		}
		key, err := b.tags.ResolveTagKey(UseCasePerformance, orgID, TagTransaction)
		if err != nil {
			return nil, err
		}
		return expr.NewFunction(operation, expr.NewColumn(key), inner), nil
	}

	var filter expr.Expression
	switch identifier {
	case TransactionNameIsUnparameterized, TransactionNameIsNull:
		f, err := nameFilter("equals", identifier)
		if err != nil {
			return nil, err
		}
		filter = f
	case TransactionNameHasValue:
		notNull, err := nameFilter("notEquals", TransactionNameIsNull)
		if err != nil {
			return nil, err
		}
		notUnparameterized, err := nameFilter("notEquals", TransactionNameIsUnparameterized)
		if err != nil {
			return nil, err
		}
		filter = expr.NewFunction("and", notNull, notUnparameterized)
	default:
		return nil, lumerr.NewValidationError(lumerr.CodeInvalidParams,
			fmt.Sprintf("count_transaction_name expects one of %s, %s, %s but got %q",
				TransactionNameIsUnparameterized, TransactionNameIsNull, TransactionNameHasValue, identifier))
	}

	return expr.NewAliasedFunction("countIf", alias,
		expr.NewColumn("value"),
		expr.NewFunction("and", aggregateFilter, filter),
	), nil
}

// TeamKeyTransactionPair names one (project, transaction) combination a team
// has marked as key.
type TeamKeyTransactionPair struct {
	ProjectID   int64
	Transaction string
}

// TeamKeyTransaction builds the membership test
// in((project_id, transaction_tag), [...]). Duplicate pairs are dropped with
// the first occurrence kept so identical inputs always render identically.
func (b *Builder) TeamKeyTransaction(orgID int64, pairs []TeamKeyTransactionPair, alias string) (*expr.Function, error) {
	key, err := b.tags.ResolveTagKey(UseCasePerformance, orgID, TagTransaction)
	if err != nil {
		return nil, err
	}
	seen := make(map[TeamKeyTransactionPair]struct{}, len(pairs))
	var items []expr.Expression
	for _, pair := range pairs {
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		value, err := b.tags.ResolveTagValue(UseCasePerformance, orgID, pair.Transaction)
		if err != nil {
			return nil, err
		}
		items = append(items, expr.NewTuple(expr.Int(pair.ProjectID), expr.Value(value)))
	}
	return expr.NewAliasedFunction("in", alias,
		expr.NewTuple(expr.NewColumn("project_id"), expr.NewColumn(key)),
		expr.NewList(items...),
	), nil
}
