// Package metrics builds aggregate query expressions over the metrics
// store: session health, transaction performance, apdex, and histograms.
// All builders are pure with respect to the expression tree; the only
// external reads are tag resolution and threshold configuration, both
// injected as interfaces.
package metrics

// UseCase selects the metrics namespace a tag or metric id belongs to.
type UseCase string

const (
	UseCaseReleaseHealth UseCase = "release_health"
	UseCasePerformance   UseCase = "performance"
)

// TagResolver maps tag names and values to the backend-internal codes the
// analytics engine stores. Depending on the deployment, resolved tag values
// are integer codes or raw strings.
type TagResolver interface {
	// ResolveTagKey returns the backend column expression for a tag key,
	// e.g. "tags[9]".
	ResolveTagKey(useCase UseCase, orgID int64, name string) (string, error)

	// ResolveTagValue returns the stored representation of a tag value.
	ResolveTagValue(useCase UseCase, orgID int64, value string) (interface{}, error)

	// ResolveTagValues resolves a list of tag values, preserving order.
	ResolveTagValues(useCase UseCase, orgID int64, values []string) ([]interface{}, error)

	// ReverseResolveWeak maps a metric id back to its MRI. Unknown ids
	// resolve to the empty string rather than an error.
	ReverseResolveWeak(useCase UseCase, orgID int64, metricID int64) (string, error)
}

// Tag keys used by the builders.
const (
	TagSessionStatus           = "session.status"
	TagTransaction             = "transaction"
	TagTransactionStatus       = "transaction.status"
	TagTransactionSatisfaction = "satisfaction"
	TagMeasurementRating       = "measurement_rating"
)

// Session status tag values.
const (
	SessionStatusInit           = "init"
	SessionStatusCrashed        = "crashed"
	SessionStatusAbnormal       = "abnormal"
	SessionStatusErrored        = "errored"
	SessionStatusErroredPreaggr = "errored_preaggr"
	SessionStatusExited         = "exited"
)

// Transaction status tag values. FailureExcludedStatuses is the exhaustive
// allow-by-exclusion list defining failure: anything that is not ok, not
// cancelled, and not unknown counts as failed. New benign statuses must be
// added here explicitly or they will be reclassified as failures.
const (
	TransactionStatusOK        = "ok"
	TransactionStatusCancelled = "cancelled"
	TransactionStatusUnknown   = "unknown"
)

// FailureExcludedStatuses lists the statuses excluded from failure counts.
var FailureExcludedStatuses = []string{
	TransactionStatusOK,
	TransactionStatusCancelled,
	TransactionStatusUnknown,
}

// Transaction satisfaction tag values.
const (
	SatisfactionSatisfied  = "satisfied"
	SatisfactionTolerated  = "tolerated"
	SatisfactionFrustrated = "frustrated"
)

// Metric resource identifiers (MRIs) referenced by the builders.
const (
	MRITransactionDuration = "d:transactions/duration@millisecond"
	MRIMeasurementsLCP     = "d:transactions/measurements.lcp@millisecond"
	MRISession             = "c:sessions/session@none"
	MRISessionUser         = "s:sessions/user@none"
)

// Transaction-name classification identifiers accepted by
// CountTransactionName. Any other identifier is a caller bug and fails
// with an invalid-parameter error.
const (
	TransactionNameIsUnparameterized = "is_unparameterized"
	TransactionNameIsNull            = "is_null"
	TransactionNameHasValue          = "has_value"
)

// UnparameterizedTransaction is the tag value recorded for transactions
// whose names could not be parameterized.
const UnparameterizedTransaction = "<< unparameterized >>"
