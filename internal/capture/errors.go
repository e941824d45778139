package capture

import (
	"fmt"

	"github.com/chaz8081/glowlink/internal/ready"
)

// ErrNotReady is returned when no capture capability is available yet.
var ErrNotReady = ready.ErrNotReady

// OpError reports a failure of the capture source.
type OpError struct {
	Op  string // capture or gallery
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// PayloadDecodeError reports a malformed inline image payload.
type PayloadDecodeError struct {
	Reason string
	Err    error
}

func (e *PayloadDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: invalid image payload: %s: %v", e.Reason, e.Err)
	}
	return "capture: invalid image payload: " + e.Reason
}

func (e *PayloadDecodeError) Unwrap() error { return e.Err }
