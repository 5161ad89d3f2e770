package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certitrack/internal/inventory"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListActive(ctx context.Context) ([]inventory.CertificateRecord, error) {
	args := m.Called(ctx)
	if records, ok := args.Get(0).([]inventory.CertificateRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestCollector_ErrorStopsCollection(t *testing.T) {
	source := new(mockSource)
	source.On("ListActive", mock.Anything).Return(nil, assert.AnError)

	registry := prometheus.NewRegistry()
	collector := NewInventoryCollector(source, time.Minute)
	require.NoError(t, registry.Register(collector))

	metricsCount := testutil.CollectAndCount(collector)
	assert.Greater(t, metricsCount, 0)

	value, err := gatherGauge(registry, "certitrack_exporter_last_scrape_success", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, value)

	source.AssertExpectations(t)
}

func TestCollector_SuccessMetrics(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(10 * 24 * time.Hour)
	later := now.Add(90 * 24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	records := []inventory.CertificateRecord{
		{ID: 1, CommonName: "soon", ValidUntil: &soon, Status: inventory.StatusExpiringSoon},
		{ID: 2, CommonName: "later", ValidUntil: &later, Status: inventory.StatusActive},
		{ID: 3, CommonName: "old", ValidUntil: &past, Status: inventory.StatusExpired},
		{ID: 4, CommonName: "nodate", Status: inventory.StatusUnknown},
	}

	source := new(mockSource)
	source.On("ListActive", mock.Anything).Return(records, nil)

	registry := prometheus.NewRegistry()
	rawCollector := NewInventoryCollector(source, time.Minute)
	collector, ok := rawCollector.(*inventoryCollector)
	require.True(t, ok)
	collector.now = func() time.Time { return now }
	require.NoError(t, registry.Register(collector))

	totalMetrics := testutil.CollectAndCount(collector)
	assert.GreaterOrEqual(t, totalMetrics, 5)

	assertGauge(t, registry, "certitrack_exporter_last_scrape_success", nil, 1.0)
	assertGauge(t, registry, "certitrack_certificates_expired_count", nil, 1.0)
	assertGauge(t, registry, "certitrack_certificates_expiring_soon_count", nil, 1.0)
	assertGauge(t, registry, "certitrack_certificates_total", map[string]string{"status": "active"}, 1.0)
	assertGauge(t, registry, "certitrack_certificates_total", map[string]string{"status": "unknown"}, 1.0)

	// Per-certificate countdown for the expired one is clamped to zero.
	assertGauge(t, registry, "certitrack_certificate_expires_in_seconds", map[string]string{
		"id":          "3",
		"common_name": "old",
	}, 0.0)
}

func TestCollector_SnapshotIsCachedBetweenScrapes(t *testing.T) {
	until := time.Now().Add(60 * 24 * time.Hour)
	records := []inventory.CertificateRecord{
		{ID: 1, CommonName: "a", ValidUntil: &until, Status: inventory.StatusActive},
	}

	source := new(mockSource)
	source.On("ListActive", mock.Anything).Return(records, nil).Once()

	collector := NewInventoryCollector(source, time.Minute)
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(collector))

	// Two scrapes inside the TTL hit the database once.
	_, err := registry.Gather()
	require.NoError(t, err)
	_, err = registry.Gather()
	require.NoError(t, err)

	source.AssertExpectations(t)
}

func assertGauge(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string, expected float64) {
	t.Helper()
	value, err := gatherGauge(registry, name, labels)
	require.NoError(t, err)
	assert.InDelta(t, expected, value, 0.0001)
}

func gatherGauge(registry *prometheus.Registry, name string, labels map[string]string) (float64, error) {
	families, err := registry.Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if !matchLabels(m, labels) {
				continue
			}
			return m.GetGauge().GetValue(), nil
		}
	}
	return 0, nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	for _, lp := range metric.Label {
		if expected, ok := labels[lp.GetName()]; ok && expected != lp.GetValue() {
			return false
		}
	}
	for expectedKey := range labels {
		found := false
		for _, lp := range metric.Label {
			if lp.GetName() == expectedKey {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
