package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Entry is the append-only record of a governance action. Rows are written
// inside the transaction of the operation they describe and never updated.
type Entry struct {
	ID          string         `gorm:"column:id;primaryKey"`
	EntityType  string         `gorm:"column:entity_type;index:idx_audit_entity"`
	EntityID    string         `gorm:"column:entity_id;index:idx_audit_entity"`
	Action      string         `gorm:"column:action"`
	PerformedBy string         `gorm:"column:performed_by"`
	BeforeValue datatypes.JSON `gorm:"column:before_value"`
	AfterValue  datatypes.JSON `gorm:"column:after_value"`
	Notes       string         `gorm:"column:notes"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Entry) TableName() string {
	return "audit_entries"
}
