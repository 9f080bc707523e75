package domain

import "time"

type ProbeStatus string

const (
	StatusReachable   ProbeStatus = "REACHABLE"
	StatusUnreachable ProbeStatus = "UNREACHABLE"
	StatusError       ProbeStatus = "ERROR"
)

// Reason refines a ProbeStatus into the status description published to the portal.
type Reason string

const (
	ReasonNoAttempts      Reason = "no_attempts"
	ReasonOnline          Reason = "online"
	ReasonTimeout         Reason = "timeout"
	ReasonInvalidHostname Reason = "invalid_hostname"
	ReasonUnknownError    Reason = "unknown_error"
)

var reasonCodes = map[Reason]int{
	ReasonNoAttempts:      0,
	ReasonOnline:          1,
	ReasonTimeout:         -1,
	ReasonInvalidHostname: -2,
	ReasonUnknownError:    -3,
}

// Code returns the numeric portal status code for the reason.
func (r Reason) Code() int {
	return reasonCodes[r]
}

// Reasons lists every reason the portal dataset accepts.
func Reasons() []Reason {
	return []Reason{ReasonNoAttempts, ReasonOnline, ReasonTimeout, ReasonInvalidHostname, ReasonUnknownError}
}

// ProbeOutcome is the result of probing one device during one run.
// Latency is set only when Status is StatusReachable.
type ProbeOutcome struct {
	Device    DeviceSpec     `json:"device"`
	Status    ProbeStatus    `json:"status"`
	Reason    Reason         `json:"reason"`
	Attempts  int            `json:"attempts"`
	Timestamp time.Time      `json:"timestamp"`
	Latency   *time.Duration `json:"latency,omitempty"`
	Error     string         `json:"error,omitempty"`
}
