package inventory

import (
	"math"
	"time"
)

// ExpiringSoonWindowDays is the threshold below which a valid certificate
// is considered expiring soon.
const ExpiringSoonWindowDays = 30

// ComputeStatus derives the lifecycle status and cached days-remaining
// value from the expiration date and the current time. The revoked status
// is sticky: once set manually it is never cleared here. The function is
// pure and idempotent, so it can be re-run in bulk over the whole
// inventory at any time.
func ComputeStatus(validUntil *time.Time, now time.Time, current Status) (Status, *int) {
	if validUntil == nil {
		return StatusUnknown, nil
	}

	days := int(math.Floor(validUntil.Sub(now).Hours() / 24))
	remaining := &days

	if current == StatusRevoked {
		return StatusRevoked, remaining
	}

	switch {
	case days < 0:
		return StatusExpired, remaining
	case days <= ExpiringSoonWindowDays:
		return StatusExpiringSoon, remaining
	default:
		return StatusActive, remaining
	}
}

// Refresh applies ComputeStatus to a record in place and reports whether
// either cached field changed.
func Refresh(record *CertificateRecord, now time.Time) bool {
	status, days := ComputeStatus(record.ValidUntil, now, record.Status)
	changed := record.Status != status || !equalDays(record.DaysRemaining, days)
	record.Status = status
	record.DaysRemaining = days
	return changed
}

func equalDays(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
