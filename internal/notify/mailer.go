// Package notify evaluates expiration alert rules against the inventory
// and delivers grouped email notifications over SMTP.
package notify

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"text/template"
	"time"

	"gopkg.in/gomail.v2"

	"certitrack/internal/inventory"
)

// SMTPConfig is the delivery endpoint for outgoing alerts.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Insecure bool
}

// Mailer delivers one alert email. Implementations must be safe for
// sequential reuse across rules.
type Mailer interface {
	Send(recipients []string, subject, body string) error
}

// SMTPMailer sends mail through a configured SMTP relay using gomail.
type SMTPMailer struct {
	config SMTPConfig
}

// NewSMTPMailer builds a mailer for the given relay.
func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{config: config}
}

// Send dials the relay and delivers one message to all recipients.
func (m *SMTPMailer) Send(recipients []string, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.config.From)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dialer := gomail.NewDialer(m.config.Host, m.config.Port, m.config.Username, m.config.Password)
	dialer.SSL = m.config.UseTLS
	if m.config.Insecure {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// bodyTemplate renders the grouped alert body: one line per certificate
// with its expiration date and remaining days.
var bodyTemplate = template.Must(template.New("alert").Parse(`The following certificate{{if gt (len .Certificates) 1}}s{{end}} will expire within {{.Days}} days:

{{range .Certificates}}  - {{.CommonName}} expires on {{.Expires}} ({{.Remaining}} day{{if ne .Remaining 1}}s{{end}} remaining)
{{end}}
This is an automated notification from CertiTrack.
`))

type bodyLine struct {
	CommonName string
	Expires    string
	Remaining  int
}

// renderBody formats the plain-text body for one rule's candidates.
func renderBody(rule inventory.NotificationRule, candidates []inventory.CertificateRecord) (string, error) {
	lines := make([]bodyLine, 0, len(candidates))
	for _, record := range candidates {
		line := bodyLine{CommonName: record.CommonName, Expires: "unknown"}
		if record.ValidUntil != nil {
			line.Expires = record.ValidUntil.Format("02/01/2006")
		}
		if record.DaysRemaining != nil {
			line.Remaining = *record.DaysRemaining
		}
		lines = append(lines, line)
	}

	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		Days         int
		Certificates []bodyLine
	}{
		Days:         rule.DaysBeforeExpiration,
		Certificates: lines,
	})
	if err != nil {
		return "", fmt.Errorf("render alert body: %w", err)
	}
	return buf.String(), nil
}

// entriesFor builds one audit entry per certificate for a send attempt.
func entriesFor(rule inventory.NotificationRule, candidates []inventory.CertificateRecord, recipients []string, status inventory.NotificationStatus, sendErr error, now time.Time) []inventory.NotificationLogEntry {
	ruleID := rule.ID
	entries := make([]inventory.NotificationLogEntry, 0, len(candidates))
	for _, record := range candidates {
		entry := inventory.NotificationLogEntry{
			CertificateID: record.ID,
			RuleID:        &ruleID,
			Status:        status,
			Recipients:    recipients,
			Subject:       rule.EffectiveSubject(),
			SentAt:        now,
		}
		if sendErr != nil {
			entry.ErrorMessage = sendErr.Error()
		}
		entries = append(entries, entry)
	}
	return entries
}
