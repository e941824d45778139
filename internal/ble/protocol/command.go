// Package protocol implements the ASCII command set understood by the LED
// mask firmware. Commands are written as raw UTF-8 text with no framing.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCommandBytes is the largest value a single ATT write may carry.
const MaxCommandBytes = 512

// StopCommand halts any running LED program.
const StopCommand = "STOP"

// ErrCommandTooLong is returned when an encoded command exceeds MaxCommandBytes.
var ErrCommandTooLong = errors.New("protocol: command exceeds ATT value limit")

// BuildCommand returns the command text for mode and duration.
//
//	STOP                      when mode is exactly "STOP"
//	START:<MODE>:<DURATION>   otherwise, mode upper-cased, duration verbatim
//
// Modes are not checked against a known set; the firmware decides.
func BuildCommand(mode, duration string) string {
	if mode == StopCommand {
		return StopCommand
	}
	return fmt.Sprintf("START:%s:%s", strings.ToUpper(mode), duration)
}

// Encode converts a command to the bytes written to the characteristic.
func Encode(cmd string) ([]byte, error) {
	if len(cmd) > MaxCommandBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrCommandTooLong, len(cmd))
	}
	return []byte(cmd), nil
}
