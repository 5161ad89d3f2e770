// Package errors holds the sentinel errors shared across the
// application.
package errors

import "errors"

var (
	ErrHostEmpty           = errors.New("scan host is empty")
	ErrInvalidPort         = errors.New("scan port must be between 0 and 65535")
	ErrInvalidTimeout      = errors.New("scan timeout out of range")
	ErrEmptyBatch          = errors.New("batch contains no hosts")
	ErrBatchTooLarge       = errors.New("batch exceeds the maximum host count")
	ErrInvalidDelimiter    = errors.New("unsupported csv delimiter")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrRuleNotFound        = errors.New("notification rule not found")
	ErrNoRecipients        = errors.New("no recipients configured")
	ErrNotificationsOff    = errors.New("notifications are disabled")
)
