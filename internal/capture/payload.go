package capture

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// Image is a decoded inline image payload.
type Image struct {
	MIME string
	Data []byte
}

// headerPattern matches the part before the comma of a data URL.
var headerPattern = regexp.MustCompile(`^data:([A-Za-z0-9.+-]+/[A-Za-z0-9.+-]+);base64$`)

// NormalizePayload turns what a source returned into a data URL. Payloads
// that already carry a data: prefix are returned unchanged; bare base64
// gets the prefix for mime.
func NormalizePayload(raw, mime string) string {
	if strings.HasPrefix(raw, "data:") {
		return raw
	}
	return "data:" + mime + ";base64," + raw
}

// Decode parses a data URL of the form data:<type>/<subtype>;base64,<data>.
func Decode(payload string) (*Image, error) {
	if payload == "" {
		return nil, &PayloadDecodeError{Reason: "payload is empty"}
	}

	parts := strings.Split(payload, ",")
	if len(parts) != 2 {
		return nil, &PayloadDecodeError{Reason: fmt.Sprintf("expected header and data separated by one comma, got %d segments", len(parts))}
	}

	m := headerPattern.FindStringSubmatch(parts[0])
	if m == nil {
		return nil, &PayloadDecodeError{Reason: fmt.Sprintf("header %q is not data:<type>;base64", truncate(parts[0], 64))}
	}

	// Padding is optional and some camera stacks append extra '='.
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, &PayloadDecodeError{Reason: "data is not base64", Err: err}
	}
	return &Image{MIME: m[1], Data: data}, nil
}

// DecodeValue is Decode for payloads of unknown type, as handed over by a
// host bridge. nil and non-string values are rejected.
func DecodeValue(v any) (*Image, error) {
	switch p := v.(type) {
	case nil:
		return nil, &PayloadDecodeError{Reason: "payload is missing"}
	case string:
		return Decode(p)
	default:
		return nil, &PayloadDecodeError{Reason: fmt.Sprintf("payload is %T, not a string", v)}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
