package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lumerr "github.com/lumenapm/lumen/internal/errors"
)

type fakeThresholdStore struct {
	projects  []ProjectThreshold
	overrides []TransactionThreshold

	projectErr  error
	overrideErr error
}

func (f *fakeThresholdStore) ProjectThresholds(ctx context.Context, orgID int64, projectIDs []int64) ([]ProjectThreshold, error) {
	return f.projects, f.projectErr
}

func (f *fakeThresholdStore) TransactionThresholds(ctx context.Context, orgID int64, projectIDs []int64) ([]TransactionThreshold, error) {
	return f.overrides, f.overrideErr
}

func newTestResolver(store ThresholdStore) *ThresholdResolver {
	return NewThresholdResolver(store, &fakeTagResolver{})
}

func TestResolveNoConfiguration(t *testing.T) {
	r := newTestResolver(&fakeThresholdStore{})
	fn, err := r.Resolve(context.Background(), 1, []int64{42})
	require.NoError(t, err)
	assert.Equal(t, "tuple('duration', 300) AS project_threshold_config", fn.String())
}

func TestResolveProjectRowEqualToDefaultPruned(t *testing.T) {
	r := newTestResolver(&fakeThresholdStore{
		projects: []ProjectThreshold{
			{ProjectID: 42, Threshold: DefaultProjectThreshold, Metric: ThresholdMetricDuration},
		},
	})
	fn, err := r.Resolve(context.Background(), 1, []int64{42})
	require.NoError(t, err)
	// The pruned project id must not leak into any key array.
	assert.Equal(t, "tuple('duration', 300) AS project_threshold_config", fn.String())
	assert.NotContains(t, fn.String(), "42")
}

func TestResolveProjectLevelOnly(t *testing.T) {
	r := newTestResolver(&fakeThresholdStore{
		projects: []ProjectThreshold{
			{ProjectID: 42, Threshold: 500, Metric: ThresholdMetricLCP},
		},
	})
	fn, err := r.Resolve(context.Background(), 1, []int64{42})
	require.NoError(t, err)
	assert.Equal(t,
		"if(equals(indexOf([toUInt64(42)], project_id) AS project_threshold_config_index, 0), "+
			"('duration', 300), "+
			"arrayElement([('lcp', 500)], indexOf([toUInt64(42)], project_id) AS project_threshold_config_index)) "+
			"AS project_threshold_config",
		fn.String())
}

func TestResolveOverrideLayer(t *testing.T) {
	r := newTestResolver(&fakeThresholdStore{
		projects: []ProjectThreshold{
			{ProjectID: 42, Threshold: 500, Metric: ThresholdMetricLCP},
		},
		overrides: []TransactionThreshold{
			{Transaction: "/checkout", ProjectID: 42, Threshold: 800, Metric: ThresholdMetricDuration},
		},
	})
	fn, err := r.Resolve(context.Background(), 1, []int64{42})
	require.NoError(t, err)

	rendered := fn.String()
	assert.True(t, strings.HasSuffix(rendered, "AS project_threshold_config"))
	assert.Contains(t, rendered,
		"indexOf([(toUInt64(42), '/checkout')], (project_id, tags[11])) AS project_threshold_override_config_index")
	assert.Contains(t, rendered, "arrayElement([('duration', 800)]")
	// The project layer nests unaliased; only the top level carries the
	// config alias. Index aliases share the prefix, so subtract them.
	configAliases := strings.Count(rendered, "AS project_threshold_config") -
		strings.Count(rendered, "AS project_threshold_config_index")
	assert.Equal(t, 1, configAliases, "inner project expression must not repeat the top-level alias")
}

func TestResolveOverrideEqualToParentPruned(t *testing.T) {
	// Two project rows and one override identical to its parent: the
	// override arrays compress to empty and the expression degenerates to
	// the project-level-only form.
	r := newTestResolver(&fakeThresholdStore{
		projects: []ProjectThreshold{
			{ProjectID: 42, Threshold: 500, Metric: ThresholdMetricLCP},
			{ProjectID: 43, Threshold: 700, Metric: ThresholdMetricDuration},
		},
		overrides: []TransactionThreshold{
			{Transaction: "/checkout", ProjectID: 42, Threshold: 500, Metric: ThresholdMetricLCP},
		},
	})
	fn, err := r.Resolve(context.Background(), 1, []int64{42, 43})
	require.NoError(t, err)

	rendered := fn.String()
	assert.NotContains(t, rendered, "project_threshold_override_config_index")
	assert.NotContains(t, rendered, "/checkout")
	assert.Contains(t, rendered, "indexOf([toUInt64(42), toUInt64(43)], project_id)")
	assert.True(t, strings.HasSuffix(rendered, "AS project_threshold_config"))
}

func TestResolveOverrideEqualToDefaultWithoutParentPruned(t *testing.T) {
	r := newTestResolver(&fakeThresholdStore{
		overrides: []TransactionThreshold{
			{Transaction: "/checkout", ProjectID: 42, Threshold: DefaultProjectThreshold, Metric: ThresholdMetricDuration},
		},
	})
	fn, err := r.Resolve(context.Background(), 1, []int64{42})
	require.NoError(t, err)
	assert.Equal(t, "tuple('duration', 300) AS project_threshold_config", fn.String())
}

func TestResolveOverrideDifferingFromDefaultSurvives(t *testing.T) {
	// No project row: an override differing from the global default must
	// survive compression even though its project has no parent config.
	r := newTestResolver(&fakeThresholdStore{
		overrides: []TransactionThreshold{
			{Transaction: "/checkout", ProjectID: 42, Threshold: 900, Metric: ThresholdMetricDuration},
		},
	})
	fn, err := r.Resolve(context.Background(), 1, []int64{42})
	require.NoError(t, err)

	rendered := fn.String()
	assert.Contains(t, rendered, "project_threshold_override_config_index")
	assert.Contains(t, rendered, "arrayElement([('duration', 900)]")
	// Fallback is the bare default tuple since no project rows survived.
	assert.Contains(t, rendered, "tuple('duration', 300)")
}

func TestResolveRowCapBoundary(t *testing.T) {
	makeProjects := func(n int) []ProjectThreshold {
		rows := make([]ProjectThreshold, n)
		for i := range rows {
			rows[i] = ProjectThreshold{ProjectID: int64(i + 1), Threshold: 500, Metric: ThresholdMetricDuration}
		}
		return rows
	}

	t.Run("exactly at the cap succeeds", func(t *testing.T) {
		r := newTestResolver(&fakeThresholdStore{projects: makeProjects(MaxQueryableTransactionThresholds)})
		_, err := r.Resolve(context.Background(), 1, []int64{1})
		require.NoError(t, err)
	})

	t.Run("one row over the cap fails", func(t *testing.T) {
		r := newTestResolver(&fakeThresholdStore{
			projects: makeProjects(MaxQueryableTransactionThresholds),
			overrides: []TransactionThreshold{
				{Transaction: "/x", ProjectID: 1, Threshold: 900, Metric: ThresholdMetricLCP},
			},
		})
		_, err := r.Resolve(context.Background(), 1, []int64{1})
		require.Error(t, err)
		assert.Equal(t, lumerr.CodeTooManyThresholds, lumerr.GetCode(err))
		assert.False(t, lumerr.IsRetryable(err))
	})
}

func TestResolveStoreErrors(t *testing.T) {
	cause := errors.New("connection refused")

	t.Run("project query failure", func(t *testing.T) {
		r := newTestResolver(&fakeThresholdStore{projectErr: cause})
		_, err := r.Resolve(context.Background(), 1, []int64{1})
		require.Error(t, err)
		assert.Equal(t, lumerr.CodeResolutionFailed, lumerr.GetCode(err))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("override query failure", func(t *testing.T) {
		r := newTestResolver(&fakeThresholdStore{overrideErr: cause})
		_, err := r.Resolve(context.Background(), 1, []int64{1})
		require.Error(t, err)
		assert.Equal(t, lumerr.CodeResolutionFailed, lumerr.GetCode(err))
		assert.ErrorIs(t, err, cause)
	})
}

func TestThresholdMetricKey(t *testing.T) {
	assert.Equal(t, "duration", ThresholdMetricDuration.Key())
	assert.Equal(t, "lcp", ThresholdMetricLCP.Key())
	assert.Equal(t, "", ThresholdMetric(99).Key())
}
