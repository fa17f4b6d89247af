// Package tasks models the per-device queue of remote-procedure-call tasks
// an ACS delivers to CPEs during their sessions: creation, dispatch,
// reconciliation of device responses, cancellation, and timeout-driven
// failure.
package tasks

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusVerifying Status = "verifying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a task can no longer change state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions is the full task state machine. Every store mutation is
// additionally guarded by a conditional UPDATE, so an illegal jump (for
// example completed back to sent) cannot happen even under races.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusCancelled},
	StatusSent:      {StatusCompleted, StatusFailed, StatusVerifying},
	StatusVerifying: {StatusCompleted, StatusFailed},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Type string

const (
	TypeGetParams          Type = "get_params"
	TypeGetParameterNames  Type = "get_parameter_names"
	TypeSetParameterValues Type = "set_parameter_values"
	TypeAddObject          Type = "add_object"
	TypeDeleteObject       Type = "delete_object"
	TypeReboot             Type = "reboot"
	TypeFactoryReset       Type = "factory_reset"
	TypeDownload           Type = "download"
	TypeUpload             Type = "upload"
)

func ParseType(raw string) (Type, error) {
	trimmed := Type(strings.TrimSpace(strings.ToLower(raw)))
	switch trimmed {
	case TypeGetParams, TypeGetParameterNames, TypeSetParameterValues,
		TypeAddObject, TypeDeleteObject, TypeReboot, TypeFactoryReset,
		TypeDownload, TypeUpload:
		return trimmed, nil
	default:
		return "", fmt.Errorf("unknown task type %q", raw)
	}
}

// ResponseTimeout is how long a dispatched task may wait for its device
// response before the sweeper fails it. The values are part of the design
// contract, not tuning knobs: parameter writes get extra room for the
// post-change verification read (WiFi settings in particular), reboots and
// factory resets cover the device's restart cycle, and transfers cover
// firmware-sized payloads on slow links.
func (t Type) ResponseTimeout() time.Duration {
	switch t {
	case TypeGetParams, TypeGetParameterNames:
		return 2 * time.Minute
	case TypeSetParameterValues, TypeAddObject, TypeDeleteObject:
		return 3 * time.Minute
	case TypeReboot, TypeFactoryReset:
		return 5 * time.Minute
	case TypeDownload:
		return 20 * time.Minute
	case TypeUpload:
		return 10 * time.Minute
	default:
		return 3 * time.Minute
	}
}

// verifyTimeout bounds how long a set_parameter_values task may sit in
// verifying before it is failed; the device gets one more session window to
// confirm the written value.
const verifyTimeout = 3 * time.Minute

// Task is the domain view of one queued RPC. InitiatorUserID is nil for
// ACS-initiated tasks.
type Task struct {
	ID              int64
	DeviceID        string
	Type            Type
	Status          Status
	InitiatorUserID *int64
	Description     string
	Result          string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SentAt          *time.Time
	DeadlineAt      *time.Time
	CompletedAt     *time.Time
}
