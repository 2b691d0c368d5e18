package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// StatusCode is the stored payment state. Success and Failed are terminal.
type StatusCode int

const (
	StatusPending StatusCode = 0
	StatusSuccess StatusCode = 1
	StatusFailed  StatusCode = 2
)

// IsTerminal reports whether the code can no longer change.
func (s StatusCode) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s StatusCode) String() string {
	return Project(s).Label
}

// StatusView is the human readable projection of a StatusCode.
type StatusView struct {
	Label       string
	Description string
}

// Project maps a status code to its label and description.
func Project(code StatusCode) StatusView {
	switch code {
	case StatusPending:
		return StatusView{Label: "PENDING", Description: "awaiting payment"}
	case StatusSuccess:
		return StatusView{Label: "SUCCESS", Description: "payment succeeded"}
	case StatusFailed:
		return StatusView{Label: "FAILED", Description: "payment failed"}
	default:
		return StatusView{Label: "UNKNOWN", Description: "indeterminate"}
	}
}

// GatewayStatusSuccess is the gateway's success sentinel.
const GatewayStatusSuccess GatewayStatus = 1

// GatewayStatus is the gateway's outcome indicator, decoded strictly.
// The gateway is not consistent about sending it as a number or a string,
// so both 1 and "1" decode to the same value; any other JSON type is rejected.
type GatewayStatus int

// UnmarshalJSON implements json.Unmarshaler.
func (g *GatewayStatus) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	var raw string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		raw = string(b)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("gateway status %s is not an integer", b)
	}

	*g = GatewayStatus(v)
	return nil
}

// DecideOutcome maps the gateway's status into the terminal state it implies.
func DecideOutcome(status GatewayStatus) StatusCode {
	if status == GatewayStatusSuccess {
		return StatusSuccess
	}
	return StatusFailed
}
