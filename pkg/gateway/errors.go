package gateway

import (
	"errors"
	"fmt"
)

// Result codes returned to the caller of Submit.
const (
	CodeTokenParse    = "token_parse"
	CodeMissingPin    = "missing_pin"
	CodePoolSaturated = "pool_saturated"
	CodeDispatch      = "dispatch"
)

var ErrMissingPin = errors.New("missing pin")

// MissingPinError rejects a token addressed to an undeclared input pin.
// It is answered synchronously and never acknowledged.
type MissingPinError struct {
	MsgUID  string
	PinName string
}

func (e *MissingPinError) Error() string {
	return fmt.Sprintf("no input pin named %q (msg_uid=%s)", e.PinName, e.MsgUID)
}

func (e *MissingPinError) Is(target error) bool { return target == ErrMissingPin }

// DispatchError is a failure between pin resolution and task start.
type DispatchError struct {
	MsgUID string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatching %s: %v", e.MsgUID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ProcessingError is an error or panic escaping a routine.
type ProcessingError struct {
	MsgUID string
	Err    error
}

func (e *ProcessingError) Error() string { return e.Err.Error() }

func (e *ProcessingError) Unwrap() error { return e.Err }
