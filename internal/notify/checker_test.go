package notify_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certitrack/internal/inventory"
	"certitrack/internal/notify"
	"certitrack/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "certitrack.db")
	s, err := store.Open("sqlite", dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCertificate(t *testing.T, s *store.Store, name string, daysUntilExpiry int) inventory.CertificateRecord {
	t.Helper()
	until := time.Now().UTC().AddDate(0, 0, daysUntilExpiry)
	record := inventory.CertificateRecord{CommonName: name, ValidUntil: &until}
	require.NoError(t, s.Create(context.Background(), &record))
	return record
}

func seedRule(t *testing.T, s *store.Store, rule inventory.NotificationRule) inventory.NotificationRule {
	t.Helper()
	rule.Active = true
	require.NoError(t, s.SaveRule(context.Background(), &rule))
	return rule
}

func TestRun_GroupsCandidatesIntoOneEmail(t *testing.T) {
	s := newTestStore(t)
	first := seedCertificate(t, s, "web.example.test", 5)
	second := seedCertificate(t, s, "api.example.test", 10)
	seedCertificate(t, s, "far.example.test", 200)
	rule := seedRule(t, s, inventory.NotificationRule{
		Name:                 "monthly",
		DaysBeforeExpiration: 30,
		Recipients:           inventory.StringList{"ops@example.test"},
	})

	mailer := new(notify.MockMailer)
	mailer.On("Send", []string{"ops@example.test"}, "Certificate expiration alert", mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "web.example.test") &&
			strings.Contains(body, "api.example.test") &&
			!strings.Contains(body, "far.example.test")
	})).Return(nil).Once()

	checker := notify.NewChecker(s, mailer, nil, zerolog.Nop())
	summary, err := checker.Run(context.Background(), notify.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RulesEvaluated)
	assert.Equal(t, 1, summary.RulesMatched)
	assert.Equal(t, 1, summary.EmailsSent)
	assert.Zero(t, summary.Failures)
	mailer.AssertExpectations(t)

	// One sent entry per certificate.
	for _, record := range []inventory.CertificateRecord{first, second} {
		entries, err := s.LogForCertificate(context.Background(), record.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, inventory.NotificationSent, entries[0].Status)
		require.NotNil(t, entries[0].RuleID)
		assert.Equal(t, rule.ID, *entries[0].RuleID)
	}
}

func TestRun_DedupsWithinCalendarDay(t *testing.T) {
	s := newTestStore(t)
	seedCertificate(t, s, "web.example.test", 5)
	seedRule(t, s, inventory.NotificationRule{
		Name:                 "monthly",
		DaysBeforeExpiration: 30,
		Recipients:           inventory.StringList{"ops@example.test"},
	})

	mailer := new(notify.MockMailer)
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	checker := notify.NewChecker(s, mailer, nil, zerolog.Nop())

	_, err := checker.Run(context.Background(), notify.Options{})
	require.NoError(t, err)

	// Same day, second pass: suppressed.
	summary, err := checker.Run(context.Background(), notify.Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.EmailsSent)
	assert.Equal(t, 1, summary.RulesSkipped)
	mailer.AssertExpectations(t)
}

func TestRun_ForceBypassesDedup(t *testing.T) {
	s := newTestStore(t)
	seedCertificate(t, s, "web.example.test", 5)
	seedRule(t, s, inventory.NotificationRule{
		Name:                 "monthly",
		DaysBeforeExpiration: 30,
		Recipients:           inventory.StringList{"ops@example.test"},
	})

	mailer := new(notify.MockMailer)
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	checker := notify.NewChecker(s, mailer, nil, zerolog.Nop())

	_, err := checker.Run(context.Background(), notify.Options{})
	require.NoError(t, err)

	summary, err := checker.Run(context.Background(), notify.Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EmailsSent)
	mailer.AssertExpectations(t)
}

func TestRun_FallsBackToDefaultRecipients(t *testing.T) {
	s := newTestStore(t)
	seedCertificate(t, s, "web.example.test", 5)
	seedRule(t, s, inventory.NotificationRule{Name: "bare", DaysBeforeExpiration: 30})

	mailer := new(notify.MockMailer)
	mailer.On("Send", []string{"fallback@example.test"}, mock.Anything, mock.Anything).Return(nil).Once()

	checker := notify.NewChecker(s, mailer, []string{"fallback@example.test"}, zerolog.Nop())
	summary, err := checker.Run(context.Background(), notify.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EmailsSent)
	mailer.AssertExpectations(t)
}

func TestRun_SkipsRuleWithoutAnyRecipients(t *testing.T) {
	s := newTestStore(t)
	seedCertificate(t, s, "web.example.test", 5)
	seedRule(t, s, inventory.NotificationRule{Name: "bare", DaysBeforeExpiration: 30})

	mailer := new(notify.MockMailer)

	checker := notify.NewChecker(s, mailer, nil, zerolog.Nop())
	summary, err := checker.Run(context.Background(), notify.Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.EmailsSent)
	assert.Equal(t, 1, summary.RulesSkipped)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_FailedSendIsLoggedAndIsolated(t *testing.T) {
	s := newTestStore(t)
	record := seedCertificate(t, s, "web.example.test", 5)
	seedRule(t, s, inventory.NotificationRule{
		Name:                 "broken",
		DaysBeforeExpiration: 7,
		Recipients:           inventory.StringList{"ops@example.test"},
	})
	seedRule(t, s, inventory.NotificationRule{
		Name:                 "working",
		DaysBeforeExpiration: 30,
		Recipients:           inventory.StringList{"team@example.test"},
	})

	mailer := new(notify.MockMailer)
	mailer.On("Send", []string{"ops@example.test"}, mock.Anything, mock.Anything).
		Return(errors.New("smtp timeout")).Once()
	mailer.On("Send", []string{"team@example.test"}, mock.Anything, mock.Anything).
		Return(nil).Once()

	checker := notify.NewChecker(s, mailer, nil, zerolog.Nop())
	summary, err := checker.Run(context.Background(), notify.Options{})
	require.NoError(t, err)

	// The broken rule fails, the later rule still goes out.
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 1, summary.EmailsSent)
	mailer.AssertExpectations(t)

	entries, err := s.LogForCertificate(context.Background(), record.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	statuses := []inventory.NotificationStatus{entries[0].Status, entries[1].Status}
	assert.Contains(t, statuses, inventory.NotificationFailed)
	assert.Contains(t, statuses, inventory.NotificationSent)
}

func TestRun_DryRunSendsNothing(t *testing.T) {
	s := newTestStore(t)
	record := seedCertificate(t, s, "web.example.test", 5)
	seedRule(t, s, inventory.NotificationRule{
		Name:                 "monthly",
		DaysBeforeExpiration: 30,
		Recipients:           inventory.StringList{"ops@example.test"},
	})

	mailer := new(notify.MockMailer)

	checker := notify.NewChecker(s, mailer, nil, zerolog.Nop())
	summary, err := checker.Run(context.Background(), notify.Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RulesMatched)
	assert.Zero(t, summary.EmailsSent)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)

	entries, err := s.LogForCertificate(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSendDailySummary_EmailsDigest(t *testing.T) {
	s := newTestStore(t)
	seedCertificate(t, s, "soon.example.test", 5)
	seedCertificate(t, s, "later.example.test", 200)

	mailer := new(notify.MockMailer)
	mailer.On("Send", []string{"ops@example.test"}, "CertiTrack daily summary", mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "soon.example.test") &&
			strings.Contains(body, "Expiring soon: 1") &&
			!strings.Contains(body, "later.example.test")
	})).Return(nil).Once()

	checker := notify.NewChecker(s, mailer, []string{"ops@example.test"}, zerolog.Nop())
	require.NoError(t, checker.SendDailySummary(context.Background()))
	mailer.AssertExpectations(t)
}

func TestSendDailySummary_SkipsWithoutRecipients(t *testing.T) {
	s := newTestStore(t)
	seedCertificate(t, s, "soon.example.test", 5)

	mailer := new(notify.MockMailer)
	checker := notify.NewChecker(s, mailer, nil, zerolog.Nop())

	require.NoError(t, checker.SendDailySummary(context.Background()))
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendDailySummary_PropagatesSendFailure(t *testing.T) {
	s := newTestStore(t)
	seedCertificate(t, s, "soon.example.test", 5)

	mailer := new(notify.MockMailer)
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp timeout")).Once()

	checker := notify.NewChecker(s, mailer, []string{"ops@example.test"}, zerolog.Nop())
	assert.Error(t, checker.SendDailySummary(context.Background()))
}

