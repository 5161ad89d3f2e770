package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
)

// ListActiveRules returns the enabled notification rules ordered by
// threshold, tightest first.
func (s *Store) ListActiveRules(ctx context.Context) ([]inventory.NotificationRule, error) {
	var rules []inventory.NotificationRule
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("days_before_expiration ASC").
		Find(&rules).Error
	return rules, err
}

// ListRules returns every rule, enabled or not, ordered by threshold.
func (s *Store) ListRules(ctx context.Context) ([]inventory.NotificationRule, error) {
	var rules []inventory.NotificationRule
	err := s.db.WithContext(ctx).
		Order("days_before_expiration ASC").
		Find(&rules).Error
	return rules, err
}

// GetRule fetches a single rule by id.
func (s *Store) GetRule(ctx context.Context, id uint) (*inventory.NotificationRule, error) {
	var rule inventory.NotificationRule
	err := s.db.WithContext(ctx).First(&rule, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, certerrors.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// SaveRule inserts or updates a rule.
func (s *Store) SaveRule(ctx context.Context, rule *inventory.NotificationRule) error {
	return s.db.WithContext(ctx).Save(rule).Error
}

// CandidatesForRule returns the non-archived certificates a rule should
// alert on: expiring within the rule's threshold but not yet expired,
// narrowed by the rule's optional environment and issuer filters.
func (s *Store) CandidatesForRule(ctx context.Context, rule inventory.NotificationRule) ([]inventory.CertificateRecord, error) {
	query := s.db.WithContext(ctx).
		Where("archived = ?", false).
		Where("status IN ?", []inventory.Status{inventory.StatusActive, inventory.StatusExpiringSoon}).
		Where("days_remaining IS NOT NULL AND days_remaining >= 0 AND days_remaining <= ?", rule.DaysBeforeExpiration)

	if rule.EnvironmentFilter != "" {
		query = query.Where("environment = ?", rule.EnvironmentFilter)
	}
	if rule.IssuerFilter != "" {
		query = query.Where("issuer LIKE ?", "%"+rule.IssuerFilter+"%")
	}

	var records []inventory.CertificateRecord
	err := query.Order("valid_until ASC").Find(&records).Error
	return records, err
}

// AppendLog stores the audit entries for one send attempt. Entries are
// never updated after insertion.
func (s *Store) AppendLog(ctx context.Context, entries []inventory.NotificationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&entries).Error
}

// SentTodayForRule reports whether any of the candidate certificates
// already has a successful log entry for this rule during the current
// UTC calendar day. One hit suppresses the whole rule for the day.
func (s *Store) SentTodayForRule(ctx context.Context, ruleID uint, certificateIDs []uint) (bool, error) {
	if len(certificateIDs) == 0 {
		return false, nil
	}

	dayStart := s.now().UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int64
	err := s.db.WithContext(ctx).
		Model(&inventory.NotificationLogEntry{}).
		Where("rule_id = ?", ruleID).
		Where("status = ?", inventory.NotificationSent).
		Where("certificate_id IN ?", certificateIDs).
		Where("sent_at >= ? AND sent_at < ?", dayStart, dayEnd).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LogForCertificate returns the send history of one certificate, newest
// first.
func (s *Store) LogForCertificate(ctx context.Context, certificateID uint) ([]inventory.NotificationLogEntry, error) {
	var entries []inventory.NotificationLogEntry
	err := s.db.WithContext(ctx).
		Where("certificate_id = ?", certificateID).
		Order("sent_at DESC").
		Find(&entries).Error
	return entries, err
}
