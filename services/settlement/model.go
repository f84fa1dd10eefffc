package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

type RevenueStatus string

var (
	RevenuePending RevenueStatus = "pending"
	RevenuePaid    RevenueStatus = "paid"
)

// RevenueRecord is one append-only periodic revenue entry per territory.
// Share columns always sum to TotalRevenue. SettlementID is stamped when a
// settlement claims the record; a claimed record can never be folded into a
// second settlement.
type RevenueRecord struct {
	ID            string          `gorm:"column:id;primaryKey"`
	TerritoryID   string          `gorm:"column:territory_id;index;not null"`
	LicenseeID    *string         `gorm:"column:licensee_id;index"`
	PeriodStart   time.Time       `gorm:"column:period_start;not null"`
	PeriodEnd     time.Time       `gorm:"column:period_end;not null;index"`
	TotalRevenue  decimal.Decimal `gorm:"column:total_revenue;type:decimal(14,2);not null"`
	LicenseeShare decimal.Decimal `gorm:"column:licensee_share;type:decimal(14,2);not null"`
	OperatorShare decimal.Decimal `gorm:"column:operator_share;type:decimal(14,2);not null"`
	Status        RevenueStatus   `gorm:"column:status;default:'pending';index"`
	SettlementID  *string         `gorm:"column:settlement_id;index"`
	PaidAt        *time.Time      `gorm:"column:paid_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (RevenueRecord) TableName() string {
	return "revenue_records"
}

type SettlementStatus string

var (
	SettlementPending SettlementStatus = "pending"
	SettlementPaid    SettlementStatus = "paid"
)

// Settlement aggregates the claimed revenue records of one licensee. Its
// period span is derived from the records it covers.
type Settlement struct {
	ID               string           `gorm:"column:id;primaryKey"`
	Code             string           `gorm:"column:code;uniqueIndex"`
	LicenseeID       string           `gorm:"column:licensee_id;index;not null"`
	PeriodStart      time.Time        `gorm:"column:period_start;not null"`
	PeriodEnd        time.Time        `gorm:"column:period_end;not null"`
	TotalRevenue     decimal.Decimal  `gorm:"column:total_revenue;type:decimal(14,2);not null"`
	LicenseeShare    decimal.Decimal  `gorm:"column:licensee_share;type:decimal(14,2);not null"`
	OperatorShare    decimal.Decimal  `gorm:"column:operator_share;type:decimal(14,2);not null"`
	Status           SettlementStatus `gorm:"column:status;default:'pending';index"`
	PaymentReference *string          `gorm:"column:payment_reference"`
	PaidAt           *time.Time       `gorm:"column:paid_at"`
	RecordCount      int              `gorm:"column:record_count"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Settlement) TableName() string {
	return "settlements"
}

// round2 rounds a currency amount to two decimal places, half away from
// zero.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
