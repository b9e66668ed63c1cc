package models

import (
	"context"
	"errors"
)

// ErrorKind classifies why a device or a run failed.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindSourceUnavailable ErrorKind = "SourceUnavailable"
	KindSourceMalformed   ErrorKind = "SourceMalformed"
	KindUnknownDeviceType ErrorKind = "UnknownDeviceType"
	KindConnectTimeout    ErrorKind = "ConnectTimeout"
	KindAuthFailed        ErrorKind = "AuthFailed"
	KindPrivilegeFailed   ErrorKind = "PrivilegeFailed"
	KindCommandTimeout    ErrorKind = "CommandTimeout"
	KindUnknown           ErrorKind = "Unknown"
	KindWriteFailed       ErrorKind = "WriteFailed"
	KindAlreadyRunning    ErrorKind = "AlreadyRunning"
)

// Sentinel errors, one per kind. Packages wrap them with %w.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceMalformed   = errors.New("source malformed")
	ErrUnknownDeviceType = errors.New("unknown device type")
	ErrConnectTimeout    = errors.New("connect timeout")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrPrivilegeFailed   = errors.New("privilege escalation failed")
	ErrCommandTimeout    = errors.New("command timeout")
	ErrWriteFailed       = errors.New("write failed")
	ErrAlreadyRunning    = errors.New("a backup run is already in progress")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrSourceUnavailable, KindSourceUnavailable},
	{ErrSourceMalformed, KindSourceMalformed},
	{ErrUnknownDeviceType, KindUnknownDeviceType},
	{ErrConnectTimeout, KindConnectTimeout},
	{ErrAuthFailed, KindAuthFailed},
	{ErrPrivilegeFailed, KindPrivilegeFailed},
	{ErrCommandTimeout, KindCommandTimeout},
	{ErrWriteFailed, KindWriteFailed},
	{ErrAlreadyRunning, KindAlreadyRunning},
}

// Classify maps err to its ErrorKind. Unrecognised errors are KindUnknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindCommandTimeout
	}
	return KindUnknown
}
