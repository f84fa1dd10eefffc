package consultant

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

var (
	StatusActive    Status = "active"
	StatusOnLeave   Status = "on_leave"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

func (s Status) String() string {
	switch s {
	case StatusActive, StatusOnLeave, StatusSuspended, StatusInactive:
		return string(s)
	default:
		return ""
	}
}

type Availability string

var (
	Available   Availability = "available"
	Busy        Availability = "busy"
	Unavailable Availability = "unavailable"
)

func (a Availability) String() string {
	switch a {
	case Available, Busy, Unavailable:
		return string(a)
	default:
		return ""
	}
}

// Consultant is a capacity-bounded agent servicing jobs in exactly one
// territory. CurrentJobs never leaves [0, MaxJobs]; both counters are only
// moved through the guarded updates in capacity.go.
type Consultant struct {
	ID               string         `gorm:"column:id;primaryKey"`
	TerritoryID      string         `gorm:"column:territory_id;index;not null"`
	Name             string         `gorm:"column:name;not null"`
	Email            string         `gorm:"column:email;uniqueIndex"`
	Role             string         `gorm:"column:role"`
	Status           Status         `gorm:"column:status;default:'active'"`
	Availability     Availability   `gorm:"column:availability;default:'available'"`
	CurrentJobs      int            `gorm:"column:current_jobs;default:0"`
	MaxJobs          int            `gorm:"column:max_jobs;not null"`
	CurrentEmployers int            `gorm:"column:current_employers;default:0"`
	MaxEmployers     int            `gorm:"column:max_employers"`
	Industries       datatypes.JSON `gorm:"column:industries"`
	Languages        datatypes.JSON `gorm:"column:languages"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Consultant) TableName() string {
	return "consultants"
}

// Filter is the typed query bag for eligibility lookups. Empty fields are
// ignored; it is validated once at the service boundary.
type Filter struct {
	Role         string
	Availability Availability
	Industry     string
	Language     string
	Search       string
}

func (f Filter) Validate() error {
	if f.Availability != "" && f.Availability.String() == "" {
		return errInvalidAvailability
	}
	return nil
}
