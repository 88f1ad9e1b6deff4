package model

import "fmt"

// JobStatus is the status of a task or one of its jobs.
type JobStatus string

const (
	// JobStatusCreated indicates the task is recorded but not started by the runner.
	JobStatusCreated JobStatus = "created"

	// JobStatusRunning indicates the runner picked the task up.
	JobStatusRunning JobStatus = "running"

	// JobStatusSuccess indicates the task completed successfully.
	JobStatusSuccess JobStatus = "success"

	// JobStatusFailed indicates the task failed or was terminated.
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// IsActive returns true if the status is created or running.
func (s JobStatus) IsActive() bool {
	return s == JobStatusCreated || s == JobStatusRunning
}

// Validate checks if the status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusCreated, JobStatusRunning, JobStatusSuccess, JobStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// CanTransition reports whether next may follow s. Terminal states are final and
// running may never be skipped.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusCreated:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// LicenseState is the acceptance state of a bundle license.
type LicenseState string

const (
	LicenseAbsent     LicenseState = "absent"
	LicenseAccepted   LicenseState = "accepted"
	LicenseUnaccepted LicenseState = "unaccepted"
)
