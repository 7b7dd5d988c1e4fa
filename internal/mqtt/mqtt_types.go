package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"ospf-simulation/internal/metrics"
)

// ControlPayload is accepted on the control topic.
type ControlPayload struct {
	Event string `json:"event"` // suspend | resume
	Node  int    `json:"node"`
}

// RunPayload is published once per finished run.
type RunPayload struct {
	Policy string      `json:"policy" msgpack:"policy"`
	Run    metrics.Run `json:"run" msgpack:"run"`
}

// Format encodes outbound payloads.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("unknown payload format %q", s)
}

// Encode serialises v in format f.
func (f Format) Encode(v any) ([]byte, error) {
	if f == FormatMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}
