package validation

import (
	"strings"
	"time"

	certerrors "certitrack/internal/errors"
)

const (
	// MaxScanTimeout caps the per-host handshake timeout.
	MaxScanTimeout = 60 * time.Second
	// MaxBatchSize caps the number of hosts accepted in one batch scan.
	MaxBatchSize = 500
)

// ValidateHost checks a scan target hostname.
func ValidateHost(host string) error {
	if strings.TrimSpace(host) == "" {
		return certerrors.ErrHostEmpty
	}
	return nil
}

// ValidatePort checks a TCP port. Zero is allowed and means the default.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return certerrors.ErrInvalidPort
	}
	return nil
}

// ValidateTimeout checks a per-host scan timeout. Zero means the
// configured default.
func ValidateTimeout(timeout time.Duration) error {
	if timeout < 0 || timeout > MaxScanTimeout {
		return certerrors.ErrInvalidTimeout
	}
	return nil
}

// ValidateBatch checks a batch scan host list and returns the trimmed
// hostnames.
func ValidateBatch(hosts []string) ([]string, error) {
	if len(hosts) == 0 {
		return nil, certerrors.ErrEmptyBatch
	}
	if len(hosts) > MaxBatchSize {
		return nil, certerrors.ErrBatchTooLarge
	}

	result := make([]string, 0, len(hosts))
	for _, host := range hosts {
		trimmed := strings.TrimSpace(host)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil, certerrors.ErrEmptyBatch
	}
	return result, nil
}
