// Package metrics exposes the certificate inventory as Prometheus
// metrics.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certitrack/internal/cache"
	"certitrack/internal/inventory"
)

const snapshotCacheKey = "inventory_snapshot"

var (
	certificatesTotalDesc = prometheus.NewDesc("certitrack_certificates_total", "Non-archived certificates grouped by status", []string{"status"}, nil)
	expiredCountDesc      = prometheus.NewDesc("certitrack_certificates_expired_count", "Number of expired certificates", nil, nil)
	expiresInDesc         = prometheus.NewDesc("certitrack_certificate_expires_in_seconds", "Seconds until certificate expiration (zero when expired or unknown)", []string{"id", "common_name", "status"}, nil)
	expiresSoonCountDesc  = prometheus.NewDesc("certitrack_certificates_expiring_soon_count", "Number of certificates expiring within the alert window", nil, nil)
	expiryTimestampDesc   = prometheus.NewDesc("certitrack_certificate_expiry_timestamp_seconds", "Certificate expiration timestamp in seconds since epoch", []string{"id", "common_name", "status"}, nil)
	lastFetchDesc         = prometheus.NewDesc("certitrack_inventory_last_fetch_timestamp_seconds", "Timestamp of last successful inventory fetch", nil, nil)
	lastScrapeSuccessDesc = prometheus.NewDesc("certitrack_exporter_last_scrape_success", "Whether the last scrape succeeded (1) or failed (0)", nil, nil)
)

// InventorySource is the subset of the store the collector reads.
type InventorySource interface {
	ListActive(ctx context.Context) ([]inventory.CertificateRecord, error)
}

type inventoryCollector struct {
	source   InventorySource
	snapshot *cache.Cache
	now      func() time.Time
}

// NewInventoryCollector returns a Prometheus collector exposing the
// certificate inventory. Scrapes within cacheTTL reuse the previous
// database snapshot.
func NewInventoryCollector(source InventorySource, cacheTTL time.Duration) prometheus.Collector {
	return &inventoryCollector{
		source:   source,
		snapshot: cache.New(cacheTTL),
		now:      time.Now,
	}
}

func (collector *inventoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- certificatesTotalDesc
	ch <- expiredCountDesc
	ch <- expiresInDesc
	ch <- expiresSoonCountDesc
	ch <- expiryTimestampDesc
	ch <- lastFetchDesc
	ch <- lastScrapeSuccessDesc
}

func (collector *inventoryCollector) Collect(ch chan<- prometheus.Metric) {
	records, err := collector.listRecords()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(lastScrapeSuccessDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(lastScrapeSuccessDesc, prometheus.GaugeValue, 1)
	now := collector.now()

	counts := make(map[inventory.Status]int)
	for _, record := range records {
		counts[record.Status]++
	}
	for _, status := range []inventory.Status{
		inventory.StatusActive,
		inventory.StatusExpiringSoon,
		inventory.StatusExpired,
		inventory.StatusRevoked,
		inventory.StatusUnknown,
	} {
		ch <- prometheus.MustNewConstMetric(certificatesTotalDesc, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(expiredCountDesc, prometheus.GaugeValue, float64(counts[inventory.StatusExpired]))
	ch <- prometheus.MustNewConstMetric(expiresSoonCountDesc, prometheus.GaugeValue, float64(counts[inventory.StatusExpiringSoon]))
	ch <- prometheus.MustNewConstMetric(lastFetchDesc, prometheus.GaugeValue, float64(now.Unix()))

	collector.emitPerCertificate(ch, records, now)
}

func (collector *inventoryCollector) listRecords() ([]inventory.CertificateRecord, error) {
	if cached, found := collector.snapshot.Get(snapshotCacheKey); found {
		if records, ok := cached.([]inventory.CertificateRecord); ok {
			return records, nil
		}
	}

	records, err := collector.source.ListActive(context.Background())
	if err != nil {
		return nil, err
	}
	collector.snapshot.Set(snapshotCacheKey, records)
	return records, nil
}

func (collector *inventoryCollector) emitPerCertificate(ch chan<- prometheus.Metric, records []inventory.CertificateRecord, now time.Time) {
	for _, record := range records {
		if record.ValidUntil == nil {
			continue
		}
		id := strconv.FormatUint(uint64(record.ID), 10)
		status := string(record.Status)

		expiryTimestamp := float64(record.ValidUntil.Unix())
		secondsToExpiry := record.ValidUntil.Sub(now).Seconds()
		if secondsToExpiry < 0 {
			secondsToExpiry = 0
		}

		ch <- prometheus.MustNewConstMetric(expiryTimestampDesc, prometheus.GaugeValue, expiryTimestamp, id, record.CommonName, status)
		ch <- prometheus.MustNewConstMetric(expiresInDesc, prometheus.GaugeValue, secondsToExpiry, id, record.CommonName, status)
	}
}
