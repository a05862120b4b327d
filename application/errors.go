package application

import (
	"errors"
	"fmt"
)

var (
	ErrConnection    = fmt.Errorf("connection error")
	ErrConfiguration = fmt.Errorf("configuration error")
	ErrParse         = fmt.Errorf("parse error")
	ErrPublish       = fmt.Errorf("publish error")
	ErrReload        = fmt.Errorf("reload error")

	ErrInvalidState = fmt.Errorf("invalid session state")
	ErrDeviceBusy   = fmt.Errorf("device path already in use")
)

// BridgeError tags a failure with one of the error kinds above so callers can
// tell fatal from recoverable failures without inspecting messages.
type BridgeError struct {
	Kind error
	Op   string
	Err  error
}

func newBridgeError(kind error, op string, err error) *BridgeError {
	return &BridgeError{Kind: kind, Op: op, Err: err}
}

func (e *BridgeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *BridgeError) Is(target error) bool {
	return target == e.Kind
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the operation that produced it. Parse and
// publish errors are recovered locally and are never fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrParse) || errors.Is(err, ErrPublish) {
		return false
	}
	return true
}
