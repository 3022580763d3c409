package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	lumerr "github.com/lumenapm/lumen/internal/errors"
	"github.com/lumenapm/lumen/internal/metrics"
	"github.com/lumenapm/lumen/internal/metrics/expr"
	"github.com/lumenapm/lumen/internal/thresholds"
)

// ExpressionRequest represents a metric expression build request.
type ExpressionRequest struct {
	Field      string  `json:"field"`
	OrgID      int64   `json:"org_id"`
	ProjectIDs []int64 `json:"project_ids,omitempty"`
	MetricIDs  []int64 `json:"metric_ids"`
	Alias      string  `json:"alias,omitempty"`
}

// ExpressionResponse represents the built expression.
type ExpressionResponse struct {
	Field      string          `json:"field"`
	Expression string          `json:"expression"`
	Tree       json.RawMessage `json:"tree"`
	RequestID  string          `json:"request_id"`
}

// ExpressionHandler handles POST /v1/metrics/expression requests: it builds
// one named aggregate expression and returns its rendered form plus the
// serialized tree.
type ExpressionHandler struct {
	builder *metrics.Builder
}

// NewExpressionHandler creates a metric expression handler.
func NewExpressionHandler(builder *metrics.Builder) *ExpressionHandler {
	return &ExpressionHandler{builder: builder}
}

// ServeHTTP handles the expression build HTTP request.
func (h *ExpressionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req ExpressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, "field is required", requestID)
		return
	}
	if len(req.MetricIDs) == 0 {
		writeError(w, http.StatusBadRequest, "metric_ids must not be empty", requestID)
		return
	}
	alias := req.Alias
	if alias == "" {
		alias = req.Field
	}

	fn, err := h.buildField(r, req, alias)
	if err != nil {
		writeLumenError(w, err, requestID)
		return
	}

	tree, err := json.Marshal(fn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to serialize expression: %v", err), requestID)
		return
	}

	writeJSON(w, http.StatusOK, ExpressionResponse{
		Field:      req.Field,
		Expression: fn.String(),
		Tree:       tree,
		RequestID:  requestID,
	})
}

func (h *ExpressionHandler) buildField(r *http.Request, req ExpressionRequest, alias string) (*expr.Function, error) {
	b := h.builder
	switch req.Field {
	case "all_sessions":
		return b.AllSessions(req.OrgID, req.MetricIDs, alias)
	case "crashed_sessions":
		return b.CrashedSessions(req.OrgID, req.MetricIDs, alias)
	case "abnormal_sessions":
		return b.AbnormalSessions(req.OrgID, req.MetricIDs, alias)
	case "errored_preaggr_sessions":
		return b.ErroredPreaggrSessions(req.OrgID, req.MetricIDs, alias)
	case "all_users":
		return b.AllUsers(req.OrgID, req.MetricIDs, alias)
	case "crashed_users":
		return b.CrashedUsers(req.OrgID, req.MetricIDs, alias)
	case "abnormal_users":
		return b.AbnormalUsers(req.OrgID, req.MetricIDs, alias)
	case "errored_all_users":
		return b.ErroredAllUsers(req.OrgID, req.MetricIDs, alias)
	case "all_transactions":
		return b.AllTransactions(req.OrgID, req.MetricIDs, alias)
	case "failure_count_transactions":
		return b.FailureCountTransactions(req.OrgID, req.MetricIDs, alias)
	case "satisfaction_count_transactions":
		return b.SatisfactionCountTransactions(r.Context(), req.OrgID, req.ProjectIDs, req.MetricIDs, alias)
	case "tolerated_count_transactions":
		return b.ToleratedCountTransactions(req.OrgID, req.MetricIDs, alias)
	case "miserable_users":
		return b.MiserableUsers(req.OrgID, req.MetricIDs, alias)
	default:
		return nil, lumerr.NewQueryError(lumerr.CodeUnknownField, "unknown field: "+req.Field)
	}
}

// ProjectThresholdRequest represents a project threshold upsert request.
type ProjectThresholdRequest struct {
	OrgID       int64  `json:"org_id"`
	ProjectID   int64  `json:"project_id"`
	Transaction string `json:"transaction,omitempty"`
	Metric      string `json:"metric"`
	Threshold   int64  `json:"threshold"`
}

// ThresholdHandler handles POST and DELETE /v1/thresholds requests. A
// request with a transaction targets the override layer, one without
// targets the project default.
type ThresholdHandler struct {
	store *thresholds.SQLiteStore
}

// NewThresholdHandler creates a threshold configuration handler.
func NewThresholdHandler(store *thresholds.SQLiteStore) *ThresholdHandler {
	return &ThresholdHandler{store: store}
}

// ServeHTTP handles the threshold configuration HTTP request.
func (h *ThresholdHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req ProjectThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.OrgID == 0 || req.ProjectID == 0 {
		writeError(w, http.StatusBadRequest, "org_id and project_id are required", requestID)
		return
	}

	switch r.Method {
	case http.MethodPost:
		metric, ok := parseThresholdMetric(req.Metric)
		if !ok {
			writeError(w, http.StatusBadRequest, "metric must be duration or lcp", requestID)
			return
		}
		if req.Threshold <= 0 {
			writeError(w, http.StatusBadRequest, "threshold must be positive", requestID)
			return
		}
		var err error
		if req.Transaction == "" {
			err = h.store.SetProjectThreshold(r.Context(), req.OrgID, metrics.ProjectThreshold{
				ProjectID: req.ProjectID,
				Metric:    metric,
				Threshold: req.Threshold,
			})
		} else {
			err = h.store.SetTransactionThreshold(r.Context(), req.OrgID, metrics.TransactionThreshold{
				ProjectID:   req.ProjectID,
				Transaction: req.Transaction,
				Metric:      metric,
				Threshold:   req.Threshold,
			})
		}
		if err != nil {
			writeLumenError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "request_id": requestID})

	case http.MethodDelete:
		var err error
		if req.Transaction == "" {
			err = h.store.DeleteProjectThreshold(r.Context(), req.OrgID, req.ProjectID)
		} else {
			err = h.store.DeleteTransactionThreshold(r.Context(), req.OrgID, req.ProjectID, req.Transaction)
		}
		if err != nil {
			writeLumenError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "request_id": requestID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

func parseThresholdMetric(key string) (metrics.ThresholdMetric, bool) {
	switch key {
	case metrics.DefaultProjectThresholdMetric:
		return metrics.ThresholdMetricDuration, true
	case "lcp":
		return metrics.ThresholdMetricLCP, true
	default:
		return 0, false
	}
}
