package store

import (
	"context"
	"errors"

	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
	"certitrack/internal/scanner"
)

// ListNeedsEnrichment returns spreadsheet-imported records still waiting
// for a scan, least recently touched first, capped at limit.
func (s *Store) ListNeedsEnrichment(ctx context.Context, limit int) ([]inventory.CertificateRecord, error) {
	var records []inventory.CertificateRecord
	query := s.db.WithContext(ctx).
		Where("archived = ? AND needs_enrichment = ?", false, true).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// UpsertScan stores a scan result keyed by the certificate serial
// number. A rescan of a known serial refreshes that record in place; an
// unknown serial creates a fresh fully-enriched record.
func (s *Store) UpsertScan(ctx context.Context, target scanner.Target, info scanner.CertInfo, env inventory.Environment) (*inventory.CertificateRecord, bool, error) {
	existing, err := s.GetBySerialNumber(ctx, info.SerialNumber)
	if err != nil && !errors.Is(err, certerrors.ErrCertificateNotFound) {
		return nil, false, err
	}

	if existing != nil {
		applyScan(existing, target, info)
		if env != "" {
			existing.Environment = env
		}
		if err := s.Update(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	record := &inventory.CertificateRecord{
		ImportMethod: inventory.ImportScan,
		Environment:  env,
	}
	applyScan(record, target, info)
	if err := s.Create(ctx, record); err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// EnrichFromScan merges a scan result into a spreadsheet-imported
// record. When another record already tracks the scanned serial, the
// scan refreshes that record instead and the spreadsheet row is
// archived as superseded.
func (s *Store) EnrichFromScan(ctx context.Context, record *inventory.CertificateRecord, target scanner.Target, info scanner.CertInfo) (*inventory.CertificateRecord, error) {
	existing, err := s.GetBySerialNumber(ctx, info.SerialNumber)
	if err != nil && !errors.Is(err, certerrors.ErrCertificateNotFound) {
		return nil, err
	}

	if existing != nil && existing.ID != record.ID {
		applyScan(existing, target, info)
		if err := s.Update(ctx, existing); err != nil {
			return nil, err
		}
		if err := s.Archive(ctx, record.ID); err != nil {
			return nil, err
		}
		return existing, nil
	}

	applyScan(record, target, info)
	if err := s.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// StampScanFailure records the failed attempt on every active record
// tracking the hostname so the inventory shows the last scan outcome.
func (s *Store) StampScanFailure(ctx context.Context, host string, scanErr error) error {
	records, err := s.ListByCommonName(ctx, host)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for i := range records {
		records[i].LastScanned = &now
		records[i].ScanError = scanErr.Error()
		if err := s.Update(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func applyScan(record *inventory.CertificateRecord, target scanner.Target, info scanner.CertInfo) {
	serial := info.SerialNumber
	validFrom := info.ValidFrom
	validUntil := info.ValidUntil
	scannedAt := info.ScannedAt

	record.CommonName = info.CommonName
	record.Issuer = info.Issuer
	record.ValidFrom = &validFrom
	record.ValidUntil = &validUntil
	record.SerialNumber = &serial
	record.FingerprintSHA256 = info.FingerprintSHA256
	record.SignatureAlgorithm = info.SignatureAlgorithm
	record.PublicKeySize = info.PublicKeySize
	record.SubjectAltNames = info.SubjectAltNames
	record.KeyUsage = info.KeyUsage
	record.PEMData = info.PEM
	record.IsSelfSigned = info.IsSelfSigned
	record.IsCACertificate = info.IsCACertificate
	record.NeedsEnrichment = false
	record.LastScanned = &scannedAt
	record.ScanError = ""
	record.ScanPort = target.Port
}
