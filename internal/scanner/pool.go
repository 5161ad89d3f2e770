package scanner

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// HostResult is the outcome of scanning one host in a batch. Exactly one
// of Info or Err is set.
type HostResult struct {
	Target Target
	Info   *CertInfo
	Err    *ScanError
}

// ScanMany scans every target with a bounded worker pool. Each host is
// fully isolated: a failure is recorded in that host's result and never
// aborts the batch. Results come back in input order.
func ScanMany(ctx context.Context, targets []Target, concurrency int, log zerolog.Logger) []HostResult {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]HostResult, len(targets))

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	log.Info().Int("targets", len(targets)).Int("concurrency", concurrency).Msg("starting batch scan")

	for i, target := range targets {
		if ctx.Err() != nil {
			results[i] = HostResult{Target: target, Err: &ScanError{
				Kind: KindUnexpected, Host: target.Host, Port: target.Port, Detail: ctx.Err().Error(),
			}}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, t Target) {
			defer wg.Done()
			defer func() { <-sem }()

			info, err := Scan(ctx, t)
			if err != nil {
				scanErr := asScanError(t, err)
				log.Warn().
					Str("host", t.Host).
					Int("port", t.Port).
					Str("kind", string(scanErr.Kind)).
					Msg("scan failed")
				results[idx] = HostResult{Target: t, Err: scanErr}
				return
			}

			log.Debug().
				Str("host", t.Host).
				Str("common_name", info.CommonName).
				Time("valid_until", info.ValidUntil).
				Msg("scan succeeded")
			results[idx] = HostResult{Target: t, Info: &info}
		}(i, target)
	}

	wg.Wait()
	log.Info().Int("results", len(results)).Msg("batch scan completed")
	return results
}

func asScanError(t Target, err error) *ScanError {
	if scanErr, ok := err.(*ScanError); ok {
		return scanErr
	}
	return &ScanError{Kind: KindUnexpected, Host: t.Host, Port: t.Port, Detail: err.Error()}
}
