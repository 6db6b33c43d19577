package realtime

import (
	"errors"
	"fmt"
)

// Code is a machine-readable connection failure code.
type Code string

const (
	// CodeUnknown represents an unclassified connection failure.
	CodeUnknown Code = "UNKNOWN"
	// CodeCancelledByUser indicates the user aborted the attempt. Never
	// retried.
	CodeCancelledByUser Code = "CANCELLED_BY_USER"
	// CodeNoInternet indicates no local network connectivity.
	CodeNoInternet Code = "NO_INTERNET"
	// CodeServerRejected indicates the platform refused the connection.
	CodeServerRejected Code = "SERVER_REJECTED"
	// CodeNetworkError indicates a transport-level failure after
	// connectivity was present.
	CodeNetworkError Code = "NETWORK_ERROR"
)

// ConnectError describes a failed connection attempt.
type ConnectError struct {
	Code        Code
	Description string
}

func (e *ConnectError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("connect failed: %s", e.Code)
	}
	return fmt.Sprintf("connect failed: %s: %s", e.Code, e.Description)
}

// ErrorCode extracts the failure code from a connection error, returning
// CodeUnknown for foreign errors.
func ErrorCode(err error) Code {
	var cerr *ConnectError
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return CodeUnknown
}
