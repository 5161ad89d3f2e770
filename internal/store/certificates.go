package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"certitrack/internal/csvimport"
	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
)

// ListActive returns every non-archived record. This is the snapshot the
// import analyzer indexes before classifying a batch.
func (s *Store) ListActive(ctx context.Context) ([]inventory.CertificateRecord, error) {
	var records []inventory.CertificateRecord
	err := s.db.WithContext(ctx).
		Where("archived = ?", false).
		Order("common_name ASC, valid_until ASC").
		Find(&records).Error
	return records, err
}

// ListByStatus returns non-archived records in any of the given statuses.
func (s *Store) ListByStatus(ctx context.Context, statuses ...inventory.Status) ([]inventory.CertificateRecord, error) {
	var records []inventory.CertificateRecord
	err := s.db.WithContext(ctx).
		Where("archived = ? AND status IN ?", false, statuses).
		Order("valid_until ASC").
		Find(&records).Error
	return records, err
}

// ListByCommonName returns the non-archived records tracking one name.
func (s *Store) ListByCommonName(ctx context.Context, commonName string) ([]inventory.CertificateRecord, error) {
	var records []inventory.CertificateRecord
	err := s.db.WithContext(ctx).
		Where("archived = ? AND common_name = ?", false, commonName).
		Order("valid_until ASC").
		Find(&records).Error
	return records, err
}

// GetByID fetches a single record.
func (s *Store) GetByID(ctx context.Context, id uint) (*inventory.CertificateRecord, error) {
	var record inventory.CertificateRecord
	err := s.db.WithContext(ctx).First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, certerrors.ErrCertificateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetBySerialNumber fetches a record by its unique serial number.
func (s *Store) GetBySerialNumber(ctx context.Context, serial string) (*inventory.CertificateRecord, error) {
	var record inventory.CertificateRecord
	err := s.db.WithContext(ctx).Where("serial_number = ?", serial).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, certerrors.ErrCertificateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Create refreshes the cached status fields and inserts the record.
func (s *Store) Create(ctx context.Context, record *inventory.CertificateRecord) error {
	inventory.Refresh(record, s.now())
	return s.db.WithContext(ctx).Create(record).Error
}

// Update refreshes the cached status fields and saves the record.
func (s *Store) Update(ctx context.Context, record *inventory.CertificateRecord) error {
	inventory.Refresh(record, s.now())
	return s.db.WithContext(ctx).Save(record).Error
}

// Archive marks a record as superseded. Archived records stay queryable
// for history but drop out of reconciliation, status listings and alerts.
func (s *Store) Archive(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).
		Model(&inventory.CertificateRecord{}).
		Where("id = ?", id).
		Update("archived", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return certerrors.ErrCertificateNotFound
	}
	return nil
}

// ImportOutcome summarizes what a committed import batch changed.
type ImportOutcome struct {
	Created  int `json:"created"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
}

// ApplyImport commits a classified batch in a single transaction. NEW
// observations become fresh records; UPDATE observations archive the
// matched version and create the replacement; duplicates, conflicts and
// error rows are skipped. Any failure rolls the whole batch back.
func (s *Store) ApplyImport(ctx context.Context, batch csvimport.BatchResult, env inventory.Environment) (ImportOutcome, error) {
	var outcome ImportOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, classified := range batch.Results {
			switch classified.Action {
			case csvimport.ActionNew:
				record := recordFromObservation(classified.Observation, inventory.ImportCSV, env)
				inventory.Refresh(&record, s.now())
				if err := tx.Create(&record).Error; err != nil {
					return fmt.Errorf("create %q (line %d): %w", classified.Observation.CommonName, classified.Observation.LineNumber, err)
				}
				outcome.Created++

			case csvimport.ActionUpdate:
				if classified.Matched == nil {
					return fmt.Errorf("update for %q (line %d) has no matched record", classified.Observation.CommonName, classified.Observation.LineNumber)
				}
				if err := tx.Model(&inventory.CertificateRecord{}).
					Where("id = ?", classified.Matched.ID).
					Update("archived", true).Error; err != nil {
					return fmt.Errorf("archive record %d: %w", classified.Matched.ID, err)
				}
				outcome.Archived++

				record := recordFromObservation(classified.Observation, inventory.ImportCSV, env)
				inventory.Refresh(&record, s.now())
				if err := tx.Create(&record).Error; err != nil {
					return fmt.Errorf("create replacement for %q (line %d): %w", classified.Observation.CommonName, classified.Observation.LineNumber, err)
				}
				outcome.Created++

			default:
				outcome.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return ImportOutcome{}, err
	}

	s.log.Info().
		Int("created", outcome.Created).
		Int("archived", outcome.Archived).
		Int("skipped", outcome.Skipped).
		Msg("import batch committed")
	return outcome, nil
}

// RecomputeAll re-derives the cached status and days-remaining fields of
// every non-archived record. Failures are counted per record and never
// abort the pass.
func (s *Store) RecomputeAll(ctx context.Context) (updated, failed int, err error) {
	now := s.now()

	var records []inventory.CertificateRecord
	result := s.db.WithContext(ctx).
		Where("archived = ?", false).
		FindInBatches(&records, 200, func(tx *gorm.DB, _ int) error {
			for i := range records {
				if !inventory.Refresh(&records[i], now) {
					continue
				}
				saveErr := tx.Model(&inventory.CertificateRecord{}).
					Where("id = ?", records[i].ID).
					Updates(map[string]any{
						"status":         records[i].Status,
						"days_remaining": records[i].DaysRemaining,
					}).Error
				if saveErr != nil {
					failed++
					s.log.Error().Err(saveErr).Uint("id", records[i].ID).Msg("status recompute failed")
					continue
				}
				updated++
			}
			return nil
		})
	if result.Error != nil {
		return updated, failed, result.Error
	}
	return updated, failed, nil
}

// CountByStatus returns the number of non-archived records per status.
func (s *Store) CountByStatus(ctx context.Context) (map[inventory.Status]int, error) {
	var rows []struct {
		Status inventory.Status
		Count  int
	}
	err := s.db.WithContext(ctx).
		Model(&inventory.CertificateRecord{}).
		Select("status, COUNT(*) AS count").
		Where("archived = ?", false).
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[inventory.Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// recordFromObservation maps a transient observation to a durable record.
func recordFromObservation(obs inventory.Observation, method inventory.ImportMethod, env inventory.Environment) inventory.CertificateRecord {
	record := inventory.CertificateRecord{
		CommonName:         obs.CommonName,
		Issuer:             obs.Issuer,
		ValidFrom:          obs.ValidFrom,
		ValidUntil:         obs.ValidUntil,
		FingerprintSHA256:  obs.FingerprintSHA256,
		SignatureAlgorithm: obs.SignatureAlgorithm,
		PublicKeySize:      obs.PublicKeySize,
		SubjectAltNames:    obs.SubjectAltNames,
		KeyUsage:           obs.KeyUsage,
		FriendlyName:       obs.FriendlyName,
		TemplateName:       obs.TemplateName,
		PEMData:            obs.PEMData,
		IsSelfSigned:       obs.IsSelfSigned,
		IsCACertificate:    obs.IsCACertificate,
		ImportMethod:       method,
		Environment:        env,
	}
	if obs.SerialNumber != "" {
		serial := obs.SerialNumber
		record.SerialNumber = &serial
	}
	if obs.Environment != "" {
		record.Environment = obs.Environment
	}
	// Spreadsheet rows carry no cryptographic material, so the record is
	// flagged for later enrichment by a scan.
	if method == inventory.ImportCSV {
		record.NeedsEnrichment = true
	}
	return record
}
