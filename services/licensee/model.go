package licensee

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

var (
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
	StatusTerminated Status = "terminated"
)

func (s Status) String() string {
	switch s {
	case StatusActive, StatusSuspended, StatusTerminated:
		return string(s)
	default:
		return ""
	}
}

// Licensee holds delegated rights over territories under a revenue-share
// agreement. Rows are never deleted; terminated is a terminal status and the
// full status history lives in the audit trail.
type Licensee struct {
	ID              string          `gorm:"column:id;primaryKey"`
	CompanyName     string          `gorm:"column:company_name;not null"`
	LegalName       string          `gorm:"column:legal_name"`
	ContactName     string          `gorm:"column:contact_name"`
	ContactEmail    string          `gorm:"column:contact_email"`
	ContactPhone    string          `gorm:"column:contact_phone"`
	RevenueSharePct decimal.Decimal `gorm:"column:revenue_share_pct;type:decimal(5,2);not null"`
	Status          Status          `gorm:"column:status;default:'active';index"`
	SuspendedAt     *time.Time      `gorm:"column:suspended_at"`
	TerminatedAt    *time.Time      `gorm:"column:terminated_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Licensee) TableName() string {
	return "licensees"
}
