package allocation

import (
	"time"

	"talentgrid-controlplane/pkg/errutil"
)

type JobStatus string

var (
	JobOpen   JobStatus = "open"
	JobOnHold JobStatus = "on_hold"
	JobClosed JobStatus = "closed"
)

func (s JobStatus) String() string {
	switch s {
	case JobOpen, JobOnHold, JobClosed:
		return string(s)
	default:
		return ""
	}
}

// PauseReason records why a job is on hold, so a licensee reactivation only
// resumes the jobs its suspension paused.
type PauseReason string

var (
	PausedBySuspension PauseReason = "licensee_suspended"
	PausedManually     PauseReason = "manual"
)

type AssignmentSource string

var (
	SourceUnassigned     AssignmentSource = "unassigned"
	SourceManualOperator AssignmentSource = "manual_operator"
	SourceManualLicensee AssignmentSource = "manual_licensee"
	SourceAuto           AssignmentSource = "auto"
)

func (s AssignmentSource) String() string {
	switch s {
	case SourceUnassigned, SourceManualOperator, SourceManualLicensee, SourceAuto:
		return string(s)
	default:
		return ""
	}
}

// ParseManualSource resolves a caller-supplied assignment provenance.
// Manual assignments come from the operator desk or a licensee portal;
// an empty value defaults to the operator.
func ParseManualSource(s string) (AssignmentSource, error) {
	switch AssignmentSource(s) {
	case "", SourceManualOperator:
		return SourceManualOperator, nil
	case SourceManualLicensee:
		return SourceManualLicensee, nil
	default:
		return "", errutil.ValidationFailed("source must be manual_operator or manual_licensee")
	}
}

// Job is a work item routed to a consultant. TerritoryID follows the
// assigned consultant: assignment stamps the consultant's territory onto the
// job, never the other way around.
type Job struct {
	ID               string           `gorm:"column:id;primaryKey"`
	Code             string           `gorm:"column:code;uniqueIndex"`
	Title            string           `gorm:"column:title;not null"`
	Status           JobStatus        `gorm:"column:status;default:'open';index"`
	PauseReason      PauseReason      `gorm:"column:pause_reason"`
	TerritoryID      *string          `gorm:"column:territory_id;index"`
	ConsultantID     *string          `gorm:"column:consultant_id;index"`
	AssignmentSource AssignmentSource `gorm:"column:assignment_source;default:'unassigned'"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

type AssignmentStatus string

var (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
)

// JobAssignment is the history of consultant-job links. At most one active
// row exists per (job, consultant) pair; completed rows accumulate.
type JobAssignment struct {
	ID           string           `gorm:"column:id;primaryKey"`
	JobID        string           `gorm:"column:job_id;index;not null"`
	ConsultantID string           `gorm:"column:consultant_id;index;not null"`
	Status       AssignmentStatus `gorm:"column:status;default:'active';index"`
	Source       AssignmentSource `gorm:"column:source"`
	AssignedBy   string           `gorm:"column:assigned_by"`
	AssignedAt   time.Time        `gorm:"column:assigned_at"`
	CompletedAt  *time.Time       `gorm:"column:completed_at"`
}

func (JobAssignment) TableName() string {
	return "job_assignments"
}
