package protocol

import (
	"fmt"
	"strings"
)

// ResponseKind classifies a notification sent back by the firmware.
type ResponseKind int

const (
	ResponseUnknown ResponseKind = iota
	ResponseStarted              // OK:STARTED:<MODE>:<DURATION>
	ResponseStopped              // OK:STOPPED
	ResponseOK                   // OK
	ResponseIdle                 // IDLE
	ResponseActive               // ACTIVE:<MODE>:<REMAINING>
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseStarted:
		return "started"
	case ResponseStopped:
		return "stopped"
	case ResponseOK:
		return "ok"
	case ResponseIdle:
		return "idle"
	case ResponseActive:
		return "active"
	default:
		return "unknown"
	}
}

// Response is a decoded firmware notification.
type Response struct {
	Kind  ResponseKind
	Mode  string // set for started and active
	Value string // duration for started, remaining seconds for active
	Raw   string
}

// ParseResponse decodes a notification payload. Unrecognised payloads are
// returned with Kind ResponseUnknown and no error; only non-text input fails.
func ParseResponse(data []byte) (Response, error) {
	raw := strings.TrimSpace(string(data))
	if !isPrintableASCII(raw) {
		return Response{}, fmt.Errorf("protocol: response is not ASCII text: %q", data)
	}
	resp := Response{Kind: ResponseUnknown, Raw: raw}

	parts := strings.Split(raw, ":")
	switch {
	case raw == "OK":
		resp.Kind = ResponseOK
	case raw == "IDLE":
		resp.Kind = ResponseIdle
	case raw == "OK:STOPPED":
		resp.Kind = ResponseStopped
	case len(parts) == 4 && parts[0] == "OK" && parts[1] == "STARTED":
		resp.Kind = ResponseStarted
		resp.Mode, resp.Value = parts[2], parts[3]
	case len(parts) == 3 && parts[0] == "ACTIVE":
		resp.Kind = ResponseActive
		resp.Mode, resp.Value = parts[1], parts[2]
	}
	return resp, nil
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
