package model

import "strings"

// RunStatus is the state of one execution.
type RunStatus string

const (
	StatusIdle            RunStatus = "idle"
	StatusRunning         RunStatus = "running"
	StatusFinished        RunStatus = "finished"
	StatusError           RunStatus = "error"
	StatusStopped         RunStatus = "stopped"
	StatusPatientNotFound RunStatus = "patient_not_found"
)

// ParseRunStatus maps a status hint from the decision service. Unknown or
// empty values map to running.
func ParseRunStatus(s string) RunStatus {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch key {
	case "finished", "done", "complete", "completed", "success":
		return StatusFinished
	case "error", "failed", "failure":
		return StatusError
	case "stopped", "cancelled", "canceled":
		return StatusStopped
	case "patient_not_found", "not_found":
		return StatusPatientNotFound
	case "idle":
		return StatusIdle
	default:
		return StatusRunning
	}
}

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusStopped, StatusPatientNotFound:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move within one
// execution: idle -> running -> terminal.
func CanTransition(from, to RunStatus) bool {
	switch {
	case from.Terminal():
		return false
	case from == StatusIdle:
		return to == StatusRunning || to.Terminal()
	case from == StatusRunning:
		return to.Terminal()
	}
	return false
}
