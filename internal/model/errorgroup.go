package model

import "time"

// ErrorGroupStatus is the triage state of an ErrorGroup.
type ErrorGroupStatus string

const (
	ErrorGroupUnresolved ErrorGroupStatus = "unresolved"
	ErrorGroupResolved   ErrorGroupStatus = "resolved"
	ErrorGroupIgnored    ErrorGroupStatus = "ignored"
	ErrorGroupMuted      ErrorGroupStatus = "muted"
)

// ErrorGroup is the mutable aggregate keyed by (project_id, fingerprint).
type ErrorGroup struct {
	ID                int64            `json:"id,omitempty"`
	ProjectID         int64            `json:"project_id"`
	Fingerprint       string           `json:"fingerprint"`
	ErrorType         string           `json:"error_type"`
	ErrorMessage      string           `json:"error_message"`
	FirstSeen         time.Time        `json:"first_seen"`
	LastSeen          time.Time        `json:"last_seen"`
	OccurrenceCount   int64            `json:"occurrence_count"`
	Status            ErrorGroupStatus `json:"status"`
	SampleLogID       int64            `json:"sample_log_id,omitempty"`
	SampleStackTrace  string           `json:"sample_stack_trace,omitempty"`
}
