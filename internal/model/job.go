package model

import "fmt"

const (
	StatusPending = "pending"
	StatusRunning = "running" // in-memory only, never persisted
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusSkip    = "skip" // set by a human editing the registry
)

// JobRecord is one row of the job registry, keyed by SettingsFile.
type JobRecord struct {
	SettingsFile      string `json:"settings_file" yaml:"settings_file"`
	Video             string `json:"video" yaml:"video"`
	Datetime          string `json:"datetime" yaml:"datetime"`
	Part              string `json:"part" yaml:"part"`
	Status            string `json:"status" yaml:"status"`
	SessionFolder     string `json:"session_folder" yaml:"session_folder"`
	Timestamp         string `json:"timestamp" yaml:"timestamp"`
	Notes             string `json:"notes" yaml:"notes"`
	KnowledgeTransfer string `json:"knowledge_transfer,omitempty" yaml:"knowledge_transfer,omitempty"`
}

// Transitions automation may perform. Nothing here leads into StatusSkip.
var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusRunning: true,
	},
	StatusFailed: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusDone:   true,
		StatusFailed: true,
	},
	StatusDone: {},
	StatusSkip: {},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok && status != ""
}

// IsEligible reports whether a record with this status is selected by track.
// Unknown values are never eligible.
func IsEligible(status string) bool {
	switch status {
	case StatusPending, StatusFailed:
		return true
	default:
		return false
	}
}

func IsPersistable(status string) bool {
	switch status {
	case StatusPending, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobStatus(job *JobRecord, toStatus string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (settings_file=%s)", from, toStatus, job.SettingsFile)
	}
	job.Status = toStatus
	return nil
}
