package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
)

// maxSummaryLines caps the expiring list in the daily digest.
const maxSummaryLines = 10

// summarySubject is the fixed subject of the daily digest.
const summarySubject = "CertiTrack daily summary"

var summaryTemplate = template.Must(template.New("summary").Parse(`Certificate inventory summary for {{.Date}}:

  Active:        {{.Active}}
  Expiring soon: {{.ExpiringSoon}}
  Expired:       {{.Expired}}
  Revoked:       {{.Revoked}}
  Unknown:       {{.Unknown}}
{{if .Expiring}}
Next to expire:
{{range .Expiring}}  - {{.CommonName}} expires on {{.Expires}} ({{.Remaining}} day{{if ne .Remaining 1}}s{{end}} remaining)
{{end}}{{end}}
This is an automated notification from CertiTrack.
`))

// SendDailySummary emails an inventory digest to the default
// recipients: per-status counts plus the next certificates to expire.
// Without default recipients the digest has nowhere to go and is
// skipped with a diagnostic.
func (c *Checker) SendDailySummary(ctx context.Context) error {
	if len(c.defaultRecipients) == 0 {
		c.log.Warn().Err(certerrors.ErrNoRecipients).Msg("daily summary skipped")
		return nil
	}

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	expiring, err := c.store.ListByStatus(ctx, inventory.StatusExpiringSoon)
	if err != nil {
		return err
	}
	if len(expiring) > maxSummaryLines {
		expiring = expiring[:maxSummaryLines]
	}

	lines := make([]bodyLine, 0, len(expiring))
	for _, record := range expiring {
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
	err = summaryTemplate.Execute(&buf, struct {
		Date         string
		Active       int
		ExpiringSoon int
		Expired      int
		Revoked      int
		Unknown      int
		Expiring     []bodyLine
	}{
		Date:         c.now().UTC().Format("02/01/2006"),
		Active:       counts[inventory.StatusActive],
		ExpiringSoon: counts[inventory.StatusExpiringSoon],
		Expired:      counts[inventory.StatusExpired],
		Revoked:      counts[inventory.StatusRevoked],
		Unknown:      counts[inventory.StatusUnknown],
		Expiring:     lines,
	})
	if err != nil {
		return fmt.Errorf("render summary body: %w", err)
	}

	if err := c.mailer.Send(c.defaultRecipients, summarySubject, buf.String()); err != nil {
		return err
	}

	c.log.Info().
		Int("expiring_soon", counts[inventory.StatusExpiringSoon]).
		Int("expired", counts[inventory.StatusExpired]).
		Msg("daily summary sent")
	return nil
}
