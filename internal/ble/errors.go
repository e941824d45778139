package ble

import (
	"errors"
	"fmt"

	"github.com/chaz8081/glowlink/internal/ready"
)

var (
	// ErrNotReady is returned when the adapter has not become usable yet.
	ErrNotReady = ready.ErrNotReady
	// ErrNoActiveConnection is returned when a command needs a connected device.
	ErrNoActiveConnection = errors.New("ble: no connected device")
	// ErrDisconnectPending is returned while a failed disconnect is unresolved.
	// Retry Disconnect or call Forget.
	ErrDisconnectPending = errors.New("ble: previous disconnect failed and is unresolved")
	// ErrWriteInFlight is returned when a command is sent while another write
	// has not completed.
	ErrWriteInFlight = errors.New("ble: command write already in flight")
)

// OpError reports a failure of the underlying BLE stack.
type OpError struct {
	Op       string // scan, stop scan, connect, disconnect, discover, write, subscribe
	DeviceID string
	Err      error
}

func (e *OpError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("ble: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ble: %s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
