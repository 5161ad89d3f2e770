package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
	"certitrack/internal/store"
)

// Options tune one expiration check run.
type Options struct {
	// Force bypasses the per-day dedup and resends every matching rule.
	Force bool
	// DryRun evaluates rules and logs what would be sent without
	// delivering mail or writing audit entries.
	DryRun bool
}

// RunSummary reports what one check pass did.
type RunSummary struct {
	RulesEvaluated int `json:"rulesEvaluated"`
	RulesMatched   int `json:"rulesMatched"`
	RulesSkipped   int `json:"rulesSkipped"`
	EmailsSent     int `json:"emailsSent"`
	Failures       int `json:"failures"`
}

// Checker runs the expiration alert rules. One email is sent per
// matching rule, grouping all its candidate certificates.
type Checker struct {
	store             *store.Store
	mailer            Mailer
	defaultRecipients []string
	log               zerolog.Logger
	now               func() time.Time
}

// NewChecker wires the rule engine. defaultRecipients is the fallback
// for rules that carry no recipient list of their own.
func NewChecker(s *store.Store, mailer Mailer, defaultRecipients []string, log zerolog.Logger) *Checker {
	return &Checker{
		store:             s,
		mailer:            mailer,
		defaultRecipients: defaultRecipients,
		log:               log,
		now:               time.Now,
	}
}

// SetClock overrides the checker clock. Intended for tests.
func (c *Checker) SetClock(now func() time.Time) {
	c.now = now
}

// Run evaluates every active rule in threshold order. A failing rule is
// logged and never blocks the remaining rules. The per-day dedup reads
// the log without locking, so two concurrent runs can both pass the
// check and double-send; callers serialize runs.
func (c *Checker) Run(ctx context.Context, opts Options) (RunSummary, error) {
	var summary RunSummary

	rules, err := c.store.ListActiveRules(ctx)
	if err != nil {
		return summary, err
	}

	for _, rule := range rules {
		summary.RulesEvaluated++
		ruleLog := c.log.With().Uint("rule_id", rule.ID).Str("rule", rule.Name).Logger()

		if err := c.runRule(ctx, rule, opts, &summary, ruleLog); err != nil {
			summary.Failures++
			ruleLog.Error().Err(err).Msg("rule evaluation failed")
		}
	}

	c.log.Info().
		Int("evaluated", summary.RulesEvaluated).
		Int("matched", summary.RulesMatched).
		Int("skipped", summary.RulesSkipped).
		Int("sent", summary.EmailsSent).
		Int("failures", summary.Failures).
		Bool("dry_run", opts.DryRun).
		Msg("expiration check finished")
	return summary, nil
}

func (c *Checker) runRule(ctx context.Context, rule inventory.NotificationRule, opts Options, summary *RunSummary, ruleLog zerolog.Logger) error {
	candidates, err := c.store.CandidatesForRule(ctx, rule)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		summary.RulesSkipped++
		ruleLog.Debug().Msg("no matching certificates")
		return nil
	}
	summary.RulesMatched++

	if !opts.Force {
		ids := make([]uint, 0, len(candidates))
		for _, record := range candidates {
			ids = append(ids, record.ID)
		}
		sent, err := c.store.SentTodayForRule(ctx, rule.ID, ids)
		if err != nil {
			return err
		}
		if sent {
			summary.RulesSkipped++
			ruleLog.Debug().Msg("already notified today")
			return nil
		}
	}

	recipients := []string(rule.Recipients)
	if len(recipients) == 0 {
		recipients = c.defaultRecipients
	}
	if len(recipients) == 0 {
		summary.RulesSkipped++
		ruleLog.Warn().Err(certerrors.ErrNoRecipients).Msg("rule skipped")
		return nil
	}

	body, err := renderBody(rule, candidates)
	if err != nil {
		return err
	}

	if opts.DryRun {
		ruleLog.Info().
			Int("certificates", len(candidates)).
			Strs("recipients", recipients).
			Msg("dry run, would send alert")
		return nil
	}

	sendErr := c.mailer.Send(recipients, rule.EffectiveSubject(), body)
	status := inventory.NotificationSent
	if sendErr != nil {
		status = inventory.NotificationFailed
	}

	entries := entriesFor(rule, candidates, recipients, status, sendErr, c.now().UTC())
	if logErr := c.store.AppendLog(ctx, entries); logErr != nil {
		ruleLog.Error().Err(logErr).Msg("could not record notification log entries")
	}

	if sendErr != nil {
		return sendErr
	}

	summary.EmailsSent++
	ruleLog.Info().
		Int("certificates", len(candidates)).
		Strs("recipients", recipients).
		Msg("alert sent")
	return nil
}
