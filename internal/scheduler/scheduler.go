// Package scheduler runs the periodic jobs: the daily expiration check,
// the daily inventory summary, the nightly status recompute and the
// weekly enrichment scan.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"certitrack/internal/enrich"
	"certitrack/internal/notify"
	"certitrack/internal/store"
)

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New builds an empty scheduler using standard five-field cron
// expressions.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log,
	}
}

// AddExpirationCheck schedules the notification rule engine.
func (s *Scheduler) AddExpirationCheck(spec string, checker *notify.Checker) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		summary, runErr := checker.Run(ctx, notify.Options{})
		if runErr != nil {
			s.log.Error().Err(runErr).Msg("scheduled expiration check failed")
			return
		}
		s.log.Info().
			Int("matched", summary.RulesMatched).
			Int("sent", summary.EmailsSent).
			Msg("scheduled expiration check done")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", spec).Msg("expiration check scheduled")
	return nil
}

// AddDailySummary schedules the inventory digest email.
func (s *Scheduler) AddDailySummary(spec string, checker *notify.Checker) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if runErr := checker.SendDailySummary(ctx); runErr != nil {
			s.log.Error().Err(runErr).Msg("scheduled daily summary failed")
			return
		}
		s.log.Info().Msg("scheduled daily summary done")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", spec).Msg("daily summary scheduled")
	return nil
}

// AddEnrichmentScan schedules the rescan of spreadsheet rows still
// missing handshake metadata.
func (s *Scheduler) AddEnrichmentScan(spec string, enricher *enrich.Enricher) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		summary, runErr := enricher.Run(ctx)
		if runErr != nil {
			s.log.Error().Err(runErr).Msg("scheduled enrichment scan failed")
			return
		}
		s.log.Info().
			Int("enriched", summary.Enriched).
			Int("failed", summary.Failed).
			Msg("scheduled enrichment scan done")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", spec).Msg("enrichment scan scheduled")
	return nil
}

// AddStatusRecompute schedules the bulk status refresh. Statuses are a
// pure function of the expiration date and the clock, so re-deriving
// them nightly keeps the cached fields honest.
func (s *Scheduler) AddStatusRecompute(spec string, db *store.Store) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		updated, failed, runErr := db.RecomputeAll(ctx)
		if runErr != nil {
			s.log.Error().Err(runErr).Msg("scheduled status recompute failed")
			return
		}
		s.log.Info().
			Int("updated", updated).
			Int("failed", failed).
			Msg("scheduled status recompute done")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", spec).Msg("status recompute scheduled")
	return nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries exposes the scheduled jobs. Used by tests.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}
