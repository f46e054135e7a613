// Package uptime defines core types for the monitoring engine.
package uptime

import (
	"time"

	"github.com/amartya2002/uptime-monitor/checks"
)

// FailureReason classifies a probe that produced no status code.
type FailureReason string

const (
	FailureTimeout    FailureReason = "timeout"
	FailureConnection FailureReason = "connectionError"
)

// Outcome is the single terminal result of one probe: either a status code or
// a failure reason.
type Outcome struct {
	StatusCode int           `json:"statusCode,omitempty"`
	Failure    FailureReason `json:"failure,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Succeeded reports whether a response was received, regardless of its code.
func (o Outcome) Succeeded() bool { return o.Failure == "" }

func success(code int) Outcome { return Outcome{StatusCode: code} }

func failure(reason FailureReason, err error) Outcome {
	o := Outcome{Failure: reason}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// LogEntry is one line of a check's execution log.
type LogEntry struct {
	// Check is the record as read before the outcome was written.
	Check   checks.Check `json:"check"`
	Outcome Outcome      `json:"outcome"`
	State   checks.State `json:"state"`
	Alert   bool         `json:"alert"`
	Time    int64        `json:"time"`
}

// CycleReport summarizes one scheduler cycle.
type CycleReport struct {
	Listed   int `json:"listed"`
	Executed int `json:"executed"`
	Invalid  int `json:"invalid"`
	// ReadFailed counts records that could not be read, including ones deleted
	// between listing and reading.
	ReadFailed  int           `json:"readFailed"`
	WriteFailed int           `json:"writeFailed"`
	Up          int           `json:"up"`
	Down        int           `json:"down"`
	Alerts      int           `json:"alerts"`
	Duration    time.Duration `json:"duration"`
	// Err is set when the ids could not be listed; nothing ran.
	Err error `json:"-"`
}

// RotationReport summarizes one rotation pass.
type RotationReport struct {
	Rotated int   `json:"rotated"`
	Skipped int   `json:"skipped"`
	Failed  int   `json:"failed"`
	Bytes   int64 `json:"bytes"`
}
