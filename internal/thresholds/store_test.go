package thresholds

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenapm/lumen/internal/metrics"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "thresholds_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	s, err := NewStore(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreProjectThresholds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetProjectThreshold(ctx, 1, metrics.ProjectThreshold{
		ProjectID: 42, Threshold: 500, Metric: metrics.ThresholdMetricLCP,
	}))
	require.NoError(t, s.SetProjectThreshold(ctx, 1, metrics.ProjectThreshold{
		ProjectID: 7, Threshold: 800, Metric: metrics.ThresholdMetricDuration,
	}))
	// Other org and out-of-scope project must not leak into reads.
	require.NoError(t, s.SetProjectThreshold(ctx, 2, metrics.ProjectThreshold{
		ProjectID: 42, Threshold: 100, Metric: metrics.ThresholdMetricDuration,
	}))
	require.NoError(t, s.SetProjectThreshold(ctx, 1, metrics.ProjectThreshold{
		ProjectID: 99, Threshold: 100, Metric: metrics.ThresholdMetricDuration,
	}))

	rows, err := s.ProjectThresholds(ctx, 1, []int64{42, 7})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Ordered by project id for deterministic array layout.
	assert.Equal(t, int64(7), rows[0].ProjectID)
	assert.Equal(t, int64(42), rows[1].ProjectID)
	assert.Equal(t, metrics.ThresholdMetricLCP, rows[1].Metric)
}

func TestStoreUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetProjectThreshold(ctx, 1, metrics.ProjectThreshold{
		ProjectID: 42, Threshold: 500, Metric: metrics.ThresholdMetricLCP,
	}))
	require.NoError(t, s.SetProjectThreshold(ctx, 1, metrics.ProjectThreshold{
		ProjectID: 42, Threshold: 900, Metric: metrics.ThresholdMetricDuration,
	}))

	rows, err := s.ProjectThresholds(ctx, 1, []int64{42})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(900), rows[0].Threshold)
	assert.Equal(t, metrics.ThresholdMetricDuration, rows[0].Metric)
}

func TestStoreTransactionThresholds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTransactionThreshold(ctx, 1, metrics.TransactionThreshold{
		Transaction: "/checkout", ProjectID: 42, Threshold: 800, Metric: metrics.ThresholdMetricDuration,
	}))
	require.NoError(t, s.SetTransactionThreshold(ctx, 1, metrics.TransactionThreshold{
		Transaction: "/cart", ProjectID: 42, Threshold: 600, Metric: metrics.ThresholdMetricLCP,
	}))

	rows, err := s.TransactionThresholds(ctx, 1, []int64{42})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Ordered by project id then transaction name.
	assert.Equal(t, "/cart", rows[0].Transaction)
	assert.Equal(t, "/checkout", rows[1].Transaction)
}

func TestStoreEmptyProjectSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.ProjectThresholds(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	overrides, err := s.TransactionThresholds(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetProjectThreshold(ctx, 1, metrics.ProjectThreshold{
		ProjectID: 42, Threshold: 500, Metric: metrics.ThresholdMetricLCP,
	}))
	require.NoError(t, s.SetTransactionThreshold(ctx, 1, metrics.TransactionThreshold{
		Transaction: "/checkout", ProjectID: 42, Threshold: 800, Metric: metrics.ThresholdMetricDuration,
	}))

	require.NoError(t, s.DeleteProjectThreshold(ctx, 1, 42))
	require.NoError(t, s.DeleteTransactionThreshold(ctx, 1, 42, "/checkout"))

	rows, err := s.ProjectThresholds(ctx, 1, []int64{42})
	require.NoError(t, err)
	assert.Empty(t, rows)

	overrides, err := s.TransactionThresholds(ctx, 1, []int64{42})
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestStoreResolvesThroughResolver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetProjectThreshold(ctx, 1, metrics.ProjectThreshold{
		ProjectID: 42, Threshold: 500, Metric: metrics.ThresholdMetricLCP,
	}))

	r := metrics.NewThresholdResolver(s, staticTags{})
	fn, err := r.Resolve(ctx, 1, []int64{42})
	require.NoError(t, err)
	assert.Contains(t, fn.String(), "toUInt64(42)")
	assert.Contains(t, fn.String(), "('lcp', 500)")
}

// staticTags is the minimal TagResolver the resolver needs for override
// key columns.
type staticTags struct{}

func (staticTags) ResolveTagKey(metrics.UseCase, int64, string) (string, error) {
	return "tags[11]", nil
}

func (staticTags) ResolveTagValue(metrics.UseCase, int64, string) (interface{}, error) {
	return nil, nil
}

func (staticTags) ResolveTagValues(metrics.UseCase, int64, []string) ([]interface{}, error) {
	return nil, nil
}

func (staticTags) ReverseResolveWeak(metrics.UseCase, int64, int64) (string, error) {
	return "", nil
}
