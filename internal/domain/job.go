package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status is an end state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ParseJobStatus validates a status string supplied by a caller.
func ParseJobStatus(raw string) (JobStatus, bool) {
	switch JobStatus(raw) {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return JobStatus(raw), true
	}
	return "", false
}

// ValidTransition enforces the allowed job state machine edges. The only
// shortcut past running is cancelling a job before it is ever claimed,
// which moves pending straight to failed.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusSucceeded || to == JobStatusFailed
	default:
		return false
	}
}

// Job encapsulates one unit of requested media-processing work.
type Job struct {
	ID           string
	Input        string
	Operation    string
	Params       map[string]string
	Status       JobStatus
	ErrorCode    ErrorCode
	ErrorMessage string
	OutputRef    string
	Attempts     int
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Artifact is one output file produced by a job, stored under the artifact
// root keyed as "<job-id>/<name>".
type Artifact struct {
	JobID     string
	Name      string
	MIME      string
	Bytes     int64
	CreatedAt time.Time
}

// Key returns the storage key for the artifact.
func (a Artifact) Key() string {
	return a.JobID + "/" + a.Name
}
