package domain

import "errors"

var (
	ErrDeviceUnreachable = errors.New("device unreachable")
	ErrUnknownDevice     = errors.New("device serial is not registered")
	ErrDeviceWriteFailed = errors.New("device rejected the user write")
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrInvalidUser       = errors.New("invalid user record")
	ErrNoResponse        = errors.New("no valid response from device")
	ErrRegistry          = errors.New("registry unavailable")
)
