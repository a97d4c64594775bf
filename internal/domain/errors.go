package domain

import "errors"

var (
	// ErrInvalidHandle is returned when an interception handle reports an invalid underlying resource.
	ErrInvalidHandle = errors.New("interception handle is invalid")

	// ErrEstablishFailed wraps any failure to create an interception handle.
	ErrEstablishFailed = errors.New("failed to establish interception handle")

	// ErrProtectionViolation is returned when a protected identifier would be intercepted.
	ErrProtectionViolation = errors.New("protected service would lose network access")

	// ErrUsageUnavailable means the recent-usage signal cannot be read (missing permission).
	ErrUsageUnavailable = errors.New("usage signal unavailable")

	// ErrTelephonyUnavailable means the telephony subscription could not be registered.
	ErrTelephonyUnavailable = errors.New("telephony signal unavailable")

	// ErrStreamClosed is returned by a handle read once the underlying stream is gone.
	ErrStreamClosed = errors.New("interception stream closed")

	// ErrNotRunning is returned by status queries when no engine is running.
	ErrNotRunning = errors.New("engine is not running")

	// ErrAppNotFound is returned by catalog lookups for unknown identifiers.
	ErrAppNotFound = errors.New("application not found")

	// ErrUnsupportedPlatform is returned by host adapters on platforms they do not support.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)
