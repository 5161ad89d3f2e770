package csvimport

import (
	"fmt"
	"time"

	"certitrack/internal/inventory"
)

// Action is the reconciliation decision for one observation.
type Action string

const (
	ActionNew       Action = "new"
	ActionUpdate    Action = "update"
	ActionDuplicate Action = "duplicate"
	ActionConflict  Action = "conflict"
	ActionError     Action = "error"
)

// Classification is the analyzer's verdict on one observation. For
// DUPLICATE the matched record is the exact-date version; for UPDATE and
// CONFLICT it is the most recent existing version.
type Classification struct {
	Observation inventory.Observation        `json:"observation"`
	Action      Action                       `json:"action"`
	Matched     *inventory.CertificateRecord `json:"matched,omitempty"`
	Reason      string                       `json:"reason"`
}

// BatchResult aggregates a whole batch classification.
type BatchResult struct {
	Results []Classification `json:"results"`
	Summary Summary          `json:"summary"`
}

// Summary counts outcomes per action.
type Summary struct {
	New       int `json:"new"`
	Update    int `json:"update"`
	Duplicate int `json:"duplicate"`
	Conflict  int `json:"conflict"`
	Error     int `json:"error"`
	Total     int `json:"total"`
}

// Analyzer classifies observations against a snapshot of the
// non-archived inventory, grouped by common name. The snapshot is taken
// once at construction and never refreshed mid-batch: imports are short,
// user-triggered and committed inside one transaction, so concurrent
// external writes are deliberately not observed.
type Analyzer struct {
	byCommonName map[string][]inventory.CertificateRecord
}

// NewAnalyzer indexes the given non-archived records by common name.
func NewAnalyzer(records []inventory.CertificateRecord) *Analyzer {
	index := make(map[string][]inventory.CertificateRecord)
	for _, record := range records {
		if record.Archived {
			continue
		}
		index[record.CommonName] = append(index[record.CommonName], record)
	}
	return &Analyzer{byCommonName: index}
}

// Classify decides what to do with a single observation.
func (a *Analyzer) Classify(obs inventory.Observation) Classification {
	versions, exists := a.byCommonName[obs.CommonName]
	if !exists || len(versions) == 0 {
		return Classification{
			Observation: obs,
			Action:      ActionNew,
			Reason:      "certificate not present in the inventory",
		}
	}

	obsDate := normalizeDate(obs.ValidUntil)

	// Exact date match on any known version is a duplicate.
	for i := range versions {
		if sameDate(normalizeDate(versions[i].ValidUntil), obsDate) {
			return Classification{
				Observation: obs,
				Action:      ActionDuplicate,
				Matched:     &versions[i],
				Reason:      "identical certificate already present (same expiration date)",
			}
		}
	}

	mostRecent := &versions[0]
	for i := range versions {
		if laterDate(normalizeDate(versions[i].ValidUntil), normalizeDate(mostRecent.ValidUntil)) {
			mostRecent = &versions[i]
		}
	}
	mostRecentDate := normalizeDate(mostRecent.ValidUntil)

	if laterDate(obsDate, mostRecentDate) {
		return Classification{
			Observation: obs,
			Action:      ActionUpdate,
			Matched:     mostRecent,
			Reason: fmt.Sprintf("newer expiration (%s > %s): archive the current version and create a new record",
				formatDate(obsDate), formatDate(mostRecentDate)),
		}
	}

	// Older than the most recent version and not an exact match: this
	// needs a manual decision and is never auto-resolved.
	return Classification{
		Observation: obs,
		Action:      ActionConflict,
		Matched:     mostRecent,
		Reason: fmt.Sprintf("older expiration (%s < %s): requires manual decision",
			formatDate(obsDate), formatDate(mostRecentDate)),
	}
}

// ClassifyBatch classifies every observation. Rows flagged with a parse
// error go straight to the error bucket and are excluded from
// classification.
func (a *Analyzer) ClassifyBatch(observations []inventory.Observation) BatchResult {
	result := BatchResult{
		Results: make([]Classification, 0, len(observations)),
		Summary: Summary{Total: len(observations)},
	}

	for _, obs := range observations {
		if obs.ParseErr != "" {
			result.Summary.Error++
			result.Results = append(result.Results, Classification{
				Observation: obs,
				Action:      ActionError,
				Reason:      obs.ParseErr,
			})
			continue
		}

		classification := a.Classify(obs)
		result.Results = append(result.Results, classification)

		switch classification.Action {
		case ActionNew:
			result.Summary.New++
		case ActionUpdate:
			result.Summary.Update++
		case ActionDuplicate:
			result.Summary.Duplicate++
		case ActionConflict:
			result.Summary.Conflict++
		}
	}

	return result
}

// normalizeDate discards the time-of-day component for comparisons.
func normalizeDate(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	normalized := time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
	return &normalized
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// laterDate reports whether a is strictly after b. A nil date is never
// later than anything.
func laterDate(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func formatDate(value *time.Time) string {
	if value == nil {
		return "unknown"
	}
	return value.Format("02/01/2006")
}
