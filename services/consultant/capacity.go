package consultant

import (
	"talentgrid-controlplane/pkg/errutil"

	"gorm.io/gorm"
)

var (
	errInvalidAvailability = errutil.ValidationFailed("unknown availability value")

	// ErrOverCapacity is returned when a reservation would push a consultant
	// past max_jobs.
	ErrOverCapacity = errutil.Conflict("consultant is at maximum job capacity")
)

// ReserveCapacityTx atomically increments current_jobs while it is still
// below max_jobs. The guard and the increment are one UPDATE, so two racing
// reservations against the last slot can never both succeed.
func ReserveCapacityTx(tx *gorm.DB, consultantID string) error {
	res := tx.Model(&Consultant{}).
		Where("id = ? AND current_jobs < max_jobs", consultantID).
		Update("current_jobs", gorm.Expr("current_jobs + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOverCapacity
	}
	return nil
}

// ReserveCapacityNTx reserves n job slots at once, used for bulk moves. The
// whole batch is accepted or rejected; partial reservation is impossible.
func ReserveCapacityNTx(tx *gorm.DB, consultantID string, n int) error {
	if n <= 0 {
		return nil
	}
	res := tx.Model(&Consultant{}).
		Where("id = ? AND current_jobs + ? <= max_jobs", consultantID, n).
		Update("current_jobs", gorm.Expr("current_jobs + ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOverCapacity
	}
	return nil
}

// ReleaseCapacityTx decrements current_jobs by n, never below zero.
func ReleaseCapacityTx(tx *gorm.DB, consultantID string, n int) error {
	if n <= 0 {
		return nil
	}
	res := tx.Model(&Consultant{}).
		Where("id = ? AND current_jobs >= ?", consultantID, n).
		Update("current_jobs", gorm.Expr("current_jobs - ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Internal("consultant job counter would drop below zero")
	}
	return nil
}
