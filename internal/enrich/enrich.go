// Package enrich rescans spreadsheet-imported records so they gain the
// handshake metadata a CSV row cannot carry.
package enrich

import (
	"context"

	"github.com/rs/zerolog"

	"certitrack/config"
	"certitrack/internal/scanner"
	"certitrack/internal/store"
)

// DefaultBatchSize bounds one enrichment pass.
const DefaultBatchSize = 50

// Summary reports what one enrichment pass did.
type Summary struct {
	Candidates int `json:"candidates"`
	Enriched   int `json:"enriched"`
	Failed     int `json:"failed"`
}

// Enricher scans records flagged as needing enrichment and merges the
// results back into the inventory.
type Enricher struct {
	store     *store.Store
	cfg       config.ScanConfig
	batchSize int
	log       zerolog.Logger
}

// New builds an enricher. A non-positive batch size falls back to
// DefaultBatchSize.
func New(s *store.Store, cfg config.ScanConfig, batchSize int, log zerolog.Logger) *Enricher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Enricher{store: s, cfg: cfg, batchSize: batchSize, log: log}
}

// Run scans one batch of flagged records. Each record is isolated: a
// failed handshake is stamped on the record and never aborts the pass.
func (e *Enricher) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	records, err := e.store.ListNeedsEnrichment(ctx, e.batchSize)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(records)
	if len(records) == 0 {
		return summary, nil
	}

	targets := make([]scanner.Target, len(records))
	for i, record := range records {
		port := record.ScanPort
		if port == 0 {
			port = e.cfg.DefaultPort
		}
		targets[i] = scanner.Target{
			Host:        record.CommonName,
			Port:        port,
			Timeout:     e.cfg.Timeout,
			VerifyChain: e.cfg.VerifyChain,
		}
	}

	results := scanner.ScanMany(ctx, targets, e.cfg.Concurrency, e.log)
	for i, result := range results {
		record := records[i]
		if result.Err != nil {
			summary.Failed++
			if stampErr := e.store.StampScanFailure(ctx, record.CommonName, result.Err); stampErr != nil {
				e.log.Error().Err(stampErr).Str("common_name", record.CommonName).Msg("could not record enrichment failure")
			}
			continue
		}
		if _, mergeErr := e.store.EnrichFromScan(ctx, &record, result.Target, *result.Info); mergeErr != nil {
			summary.Failed++
			e.log.Error().Err(mergeErr).Str("common_name", record.CommonName).Msg("could not merge enrichment scan")
			continue
		}
		summary.Enriched++
	}

	e.log.Info().
		Int("candidates", summary.Candidates).
		Int("enriched", summary.Enriched).
		Int("failed", summary.Failed).
		Msg("enrichment pass finished")
	return summary, nil
}
