// Package csvimport parses bulk certificate spreadsheets and reconciles
// the parsed observations against the existing inventory.
package csvimport

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
)

// Column order expected in the input file: common name, issuer,
// expiration date, key usage, friendly name, status, template name.
const expectedColumns = 7

// dateFormats are tried in order. The two trailing formats cover files
// exported with day-first dashes and the US month-first convention.
var dateFormats = []string{
	"02/01/2006",
	"2006-01-02",
	"02/01/2006 15:04",
	"2006-01-02 15:04:05",
	"02-01-2006",
	"01/02/2006",
}

// sentinels normalize to an absent value.
var sentinels = map[string]struct{}{
	"":        {},
	"<none>":  {},
	"<aucun>": {},
	"n/a":     {},
	"none":    {},
	"-":       {},
}

// ParseDelimiter maps a configured delimiter name to its rune.
func ParseDelimiter(name string) (rune, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tab", "\t":
		return '\t', nil
	case "semicolon", ";":
		return ';', nil
	case "comma", ",", "":
		return ',', nil
	default:
		return 0, certerrors.ErrInvalidDelimiter
	}
}

// Parser reads certificate rows from a delimited file.
type Parser struct {
	delimiter rune
	hasHeader bool
}

// NewParser builds a parser for the given delimiter. When hasHeader is
// true the first row is skipped.
func NewParser(delimiter rune, hasHeader bool) *Parser {
	return &Parser{delimiter: delimiter, hasHeader: hasHeader}
}

// Parse reads every row into an Observation. Rows that cannot be parsed
// are returned with ParseErr set rather than aborting the batch; an
// unreadable stream is the only fatal condition.
func (p *Parser) Parse(r io.Reader) ([]inventory.Observation, error) {
	reader := csv.NewReader(r)
	reader.Comma = p.delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var observations []inventory.Observation
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		// The header row is skipped whether or not it parses.
		if p.hasHeader && line == 1 {
			continue
		}
		if err != nil {
			observations = append(observations, inventory.Observation{
				LineNumber: line,
				ParseErr:   fmt.Sprintf("malformed row: %v", err),
			})
			continue
		}
		observations = append(observations, p.parseRow(record, line))
	}
	return observations, nil
}

func (p *Parser) parseRow(record []string, line int) inventory.Observation {
	obs := inventory.Observation{LineNumber: line}

	// Short rows are tolerated: missing trailing cells read as absent.
	if len(record) < expectedColumns {
		padded := make([]string, expectedColumns)
		copy(padded, record)
		record = padded
	}

	commonName := cleanValue(record[0])
	if commonName == "" {
		obs.ParseErr = "missing common name"
		return obs
	}

	obs.CommonName = commonName
	obs.Issuer = cleanValue(record[1])
	obs.KeyUsage = cleanValue(record[3])
	obs.FriendlyName = cleanValue(record[4])
	obs.TemplateName = cleanValue(record[6])

	// An unparseable or empty date yields a nil expiration for the row,
	// not a hard parse error.
	if until, ok := parseDate(record[2]); ok {
		obs.ValidUntil = &until
	}

	return obs
}

// parseDate tries each supported format in order.
func parseDate(value string) (time.Time, bool) {
	cleaned := cleanValue(value)
	if cleaned == "" {
		return time.Time{}, false
	}
	for _, format := range dateFormats {
		if parsed, err := time.Parse(format, cleaned); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// cleanValue trims a raw cell and maps sentinel values to empty.
func cleanValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if _, isSentinel := sentinels[strings.ToLower(trimmed)]; isSentinel {
		return ""
	}
	return trimmed
}
