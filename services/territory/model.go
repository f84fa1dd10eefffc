package territory

import "time"

type OwnerType string

var (
	OwnerOperator OwnerType = "operator"
	OwnerLicensee OwnerType = "licensee"
)

func (o OwnerType) String() string {
	switch o {
	case OwnerOperator, OwnerLicensee:
		return string(o)
	default:
		return ""
	}
}

// Territory is a geographic partition of the marketplace. LicenseeID is set
// exactly when OwnerType is licensee.
type Territory struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Name       string    `gorm:"column:name;not null"`
	Code       string    `gorm:"column:code;uniqueIndex"`
	OwnerType  OwnerType `gorm:"column:owner_type;default:'operator'"`
	LicenseeID *string   `gorm:"column:licensee_id;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Territory) TableName() string {
	return "territories"
}

// OwnedByLicensee reports whether the row satisfies the licensee-ownership
// invariant for the given licensee.
func (t *Territory) OwnedByLicensee(licenseeID string) bool {
	return t.OwnerType == OwnerLicensee && t.LicenseeID != nil && *t.LicenseeID == licenseeID
}
