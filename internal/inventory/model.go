package inventory

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a certificate record. It is always
// derivable from the expiration date, the current time and the sticky
// revoked flag; the stored value is a cache, never the source of truth.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
	StatusRevoked      Status = "revoked"
)

// ImportMethod records which ingestion path produced a record.
type ImportMethod string

const (
	ImportManual ImportMethod = "manual"
	ImportCSV    ImportMethod = "csv"
	ImportScan   ImportMethod = "scan"
)

// Environment classifies where a certificate is deployed.
type Environment string

const (
	EnvProduction Environment = "prod"
	EnvUAT        Environment = "uat"
	EnvTest       Environment = "test"
	EnvDev        Environment = "dev"
)

// CertificateRecord is the durable inventory entity.
type CertificateRecord struct {
	ID                 uint         `gorm:"primaryKey" json:"id"`
	CommonName         string       `gorm:"index;not null" json:"commonName"`
	Issuer             string       `gorm:"index" json:"issuer"`
	ValidFrom          *time.Time   `json:"validFrom,omitempty"`
	ValidUntil         *time.Time   `gorm:"index" json:"validUntil"`
	SerialNumber       *string      `gorm:"uniqueIndex" json:"serialNumber,omitempty"`
	FingerprintSHA256  string       `json:"fingerprintSHA256,omitempty"`
	SignatureAlgorithm string       `json:"signatureAlgorithm,omitempty"`
	PublicKeySize      *int         `json:"publicKeySize,omitempty"`
	SubjectAltNames    StringList   `gorm:"type:text" json:"subjectAltNames"`
	KeyUsage           string       `json:"keyUsage,omitempty"`
	FriendlyName       string       `json:"friendlyName,omitempty"`
	TemplateName       string       `json:"templateName,omitempty"`
	PEMData            string       `json:"-"`
	IsSelfSigned       bool         `json:"isSelfSigned"`
	IsCACertificate    bool         `json:"isCACertificate"`
	ImportMethod       ImportMethod `gorm:"index" json:"importMethod"`
	Environment        Environment  `gorm:"index" json:"environment,omitempty"`
	Status             Status       `gorm:"index;default:unknown" json:"status"`
	DaysRemaining      *int         `gorm:"index" json:"daysRemaining"`
	Archived           bool         `gorm:"index;default:false" json:"archived"`
	NeedsEnrichment    bool         `json:"needsEnrichment"`
	LastScanned        *time.Time   `json:"lastScanned,omitempty"`
	ScanError          string       `json:"scanError,omitempty"`
	ScanPort           int          `gorm:"default:443" json:"scanPort"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Observation is a transient description of a certificate produced by the
// CSV parser or the scanner. It is never persisted directly.
type Observation struct {
	CommonName         string
	Issuer             string
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	SerialNumber       string
	FingerprintSHA256  string
	SignatureAlgorithm string
	PublicKeySize      *int
	SubjectAltNames    []string
	KeyUsage           string
	FriendlyName       string
	TemplateName       string
	PEMData            string
	IsSelfSigned       bool
	IsCACertificate    bool
	Environment        Environment

	// Provenance.
	LineNumber int
	Hostname   string
	Port       int

	// ParseErr marks a row that could not be turned into a usable
	// observation. Such rows are routed to the error bucket.
	ParseErr string
}

// NotificationRule configures one expiration alert threshold.
type NotificationRule struct {
	ID                   uint        `gorm:"primaryKey" json:"id"`
	Name                 string      `json:"name"`
	DaysBeforeExpiration int         `json:"daysBeforeExpiration"`
	Recipients           StringList  `gorm:"type:text" json:"recipients"`
	Subject              string      `json:"subject"`
	EnvironmentFilter    Environment `json:"environmentFilter,omitempty"`
	IssuerFilter         string      `json:"issuerFilter,omitempty"`
	Active               bool        `gorm:"index;default:true" json:"active"`
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
}

// EffectiveSubject returns the configured subject or a default.
func (r NotificationRule) EffectiveSubject() string {
	if strings.TrimSpace(r.Subject) != "" {
		return r.Subject
	}
	return "Certificate expiration alert"
}

// NotificationStatus is the outcome of one send attempt.
type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// NotificationLogEntry is an immutable audit record of one send attempt
// for one certificate. Entries are append-only and read back only for
// the calendar-day dedup check.
type NotificationLogEntry struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	CertificateID uint               `gorm:"index" json:"certificateId"`
	RuleID        *uint              `gorm:"index" json:"ruleId,omitempty"`
	Status        NotificationStatus `gorm:"index" json:"status"`
	Recipients    StringList         `gorm:"type:text" json:"recipients"`
	Subject       string             `json:"subject"`
	ErrorMessage  string             `json:"errorMessage,omitempty"`
	SentAt        time.Time          `gorm:"index;autoCreateTime" json:"sentAt"`
}
