package metrics

import (
	"fmt"

	lumerr "github.com/lumenapm/lumen/internal/errors"
	"github.com/lumenapm/lumen/internal/metrics/expr"
)

// MaxHistogramBucket caps the bucket count passed to the backend's
// histogram aggregate.
const MaxHistogramBucket = 250

// HistogramParams bounds and sizes a histogram query. Nil From/To leave
// that side unbounded.
type HistogramParams struct {
	From    *float64
	To      *float64
	Buckets int
}

// zoomConditions restricts histogram input to the requested value range.
// Returns nil when neither bound is set.
func zoomConditions(p HistogramParams) (expr.Expression, error) {
	if p.Buckets > MaxHistogramBucket {
		return nil, lumerr.NewValidationError(lumerr.CodeInvalidParams,
			fmt.Sprintf("histogram buckets must not exceed %d", MaxHistogramBucket))
	}
	var conditions []expr.Expression
	if p.From != nil {
		conditions = append(conditions, expr.NewFunction("greaterOrEquals", expr.NewColumn("value"), expr.Float(*p.From)))
	}
	if p.To != nil {
		conditions = append(conditions, expr.NewFunction("lessOrEquals", expr.NewColumn("value"), expr.Float(*p.To)))
	}
	switch len(conditions) {
	case 0:
		return nil, nil
	case 1:
		return conditions[0], nil
	default:
		return expr.NewFunction("and", conditions...), nil
	}
}

// Histogram builds a bucketed distribution of values matching the caller's
// filter, optionally zoomed to a value range.
func Histogram(aggregateFilter expr.Expression, p HistogramParams, alias string) (*expr.Function, error) {
	if p.Buckets == 0 {
		p.Buckets = 100
	}
	zoom, err := zoomConditions(p)
	if err != nil {
		return nil, err
	}
	conditions := aggregateFilter
	if zoom != nil {
		conditions = expr.NewFunction("and", zoom, aggregateFilter)
	}
	return expr.NewAliasedFunction(fmt.Sprintf("histogramIf(%d)", MaxHistogramBucket), alias,
		expr.NewColumn("value"),
		conditions,
	), nil
}
