package licensee

import (
	"context"
	"errors"
	"time"

	"talentgrid-controlplane/pkg/db/option"
	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/pkg/repository"
	"talentgrid-controlplane/pkg/task"
	"talentgrid-controlplane/services/allocation"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/consultant"
	"talentgrid-controlplane/services/notification"
	"talentgrid-controlplane/services/settlement"
	"talentgrid-controlplane/services/territory"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	recorder    audit.Recorder
	enqueuer    task.Enqueuer
	settlements *settlement.Service
	licensees   repository.Repository[Licensee]
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Recorder    audit.Recorder
	Settlements *settlement.Service
	Enqueuer    task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		recorder:    p.Recorder,
		enqueuer:    p.Enqueuer,
		settlements: p.Settlements,
		licensees:   repository.ProvideStore[Licensee](p.DB),
	}
}

type CreateRequest struct {
	CompanyName     string
	LegalName       string
	ContactName     string
	ContactEmail    string
	ContactPhone    string
	RevenueSharePct decimal.Decimal
	Actor           string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Licensee, error) {
	if req.CompanyName == "" {
		return nil, errutil.ValidationFailed("company name is required")
	}
	if req.RevenueSharePct.IsNegative() || req.RevenueSharePct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errutil.ValidationFailed("revenue share percentage must be between 0 and 100")
	}

	lic := &Licensee{
		ID:              s.node.Generate().String(),
		CompanyName:     req.CompanyName,
		LegalName:       req.LegalName,
		ContactName:     req.ContactName,
		ContactEmail:    req.ContactEmail,
		ContactPhone:    req.ContactPhone,
		RevenueSharePct: req.RevenueSharePct,
		Status:          StatusActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(lic).Error; err != nil {
			return err
		}
		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "licensee",
			EntityID:    lic.ID,
			Action:      "licensee.create",
			PerformedBy: req.Actor,
			After:       lic,
		})
	})
	if err != nil {
		zap.L().Error("failed to create licensee", zap.Error(err))
		return nil, errutil.Internal("failed to create licensee", errutil.WithErr(err))
	}

	return lic, nil
}

func (s *Service) Get(ctx context.Context, licenseeID string) (*Licensee, error) {
	lic, err := s.licensees.FindOne(ctx, &Licensee{ID: licenseeID})
	if err != nil {
		return nil, errutil.Internal("failed to fetch licensee", errutil.WithErr(err))
	}
	if lic == nil {
		return nil, errutil.NotFound("licensee not found")
	}
	return lic, nil
}

type ListRequest struct {
	Status Status
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*Licensee, error) {
	query := &Licensee{}
	if req.Status != "" {
		if req.Status.String() == "" {
			return nil, errutil.ValidationFailed("invalid licensee status")
		}
		query.Status = req.Status
	}

	licensees, err := s.licensees.Find(ctx, query, option.OrderBy("created_at ASC"))
	if err != nil {
		return nil, errutil.Internal("failed to list licensees", errutil.WithErr(err))
	}
	return licensees, nil
}

type LifecycleRequest struct {
	LicenseeID string
	Actor      string
	Notes      string
}

type SuspendReport struct {
	JobsPaused          int64 `json:"jobs_paused"`
	TerritoriesAffected int   `json:"territories_affected"`
}

// Suspend halts a licensee's operation. Open jobs in the licensee's
// territories go on hold tagged with the suspension so a later reactivation
// resumes exactly those, and territory ownership is untouched. Existing
// assignments keep running and pending revenue stays pending.
func (s *Service) Suspend(ctx context.Context, req LifecycleRequest) (*SuspendReport, error) {
	lic, err := s.Get(ctx, req.LicenseeID)
	if err != nil {
		return nil, err
	}
	if lic.Status != StatusActive {
		return nil, errutil.UnprocessableEntity("only an active licensee can be suspended")
	}

	before := *lic
	report := &SuspendReport{}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&Licensee{}).
			Where("id = ? AND status = ?", lic.ID, StatusActive).
			Updates(map[string]interface{}{
				"status":       StatusSuspended,
				"suspended_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.UnprocessableEntity("only an active licensee can be suspended")
		}
		lic.Status = StatusSuspended
		lic.SuspendedAt = &now

		territoryIDs, err := s.ownedTerritoryIDs(ctx, tx, lic.ID)
		if err != nil {
			return err
		}
		report.TerritoriesAffected = len(territoryIDs)

		if len(territoryIDs) > 0 {
			res = tx.Model(&allocation.Job{}).
				Where("territory_id IN ? AND status = ?", territoryIDs, allocation.JobOpen).
				Updates(map[string]interface{}{
					"status":       allocation.JobOnHold,
					"pause_reason": allocation.PausedBySuspension,
				})
			if res.Error != nil {
				return res.Error
			}
			report.JobsPaused = res.RowsAffected
		}

		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "licensee",
			EntityID:    lic.ID,
			Action:      "licensee.suspend",
			PerformedBy: req.Actor,
			Before:      before,
			After:       lic,
			Notes:       req.Notes,
		})
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		zap.L().Error("failed to suspend licensee", zap.String("licensee_id", lic.ID), zap.Error(err))
		return nil, errutil.Internal("failed to suspend licensee", errutil.WithErr(err))
	}

	s.notify(notification.NewLicenseeSuspendedTask(notification.LicenseeEventPayload{
		LicenseeID:  lic.ID,
		CompanyName: lic.CompanyName,
		Actor:       req.Actor,
		Notes:       req.Notes,
	}))
	return report, nil
}

type ReactivateReport struct {
	JobsResumed int64 `json:"jobs_resumed"`
}

// Reactivate reverses a suspension. Only jobs paused by that suspension are
// reopened; a job an operator put on hold manually stays on hold.
func (s *Service) Reactivate(ctx context.Context, req LifecycleRequest) (*ReactivateReport, error) {
	lic, err := s.Get(ctx, req.LicenseeID)
	if err != nil {
		return nil, err
	}
	if lic.Status != StatusSuspended {
		return nil, errutil.UnprocessableEntity("only a suspended licensee can be reactivated")
	}

	before := *lic
	report := &ReactivateReport{}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Licensee{}).
			Where("id = ? AND status = ?", lic.ID, StatusSuspended).
			Updates(map[string]interface{}{
				"status":       StatusActive,
				"suspended_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.UnprocessableEntity("only a suspended licensee can be reactivated")
		}
		lic.Status = StatusActive
		lic.SuspendedAt = nil

		territoryIDs, err := s.ownedTerritoryIDs(ctx, tx, lic.ID)
		if err != nil {
			return err
		}

		if len(territoryIDs) > 0 {
			resumed, err := resumeSuspendedJobs(tx, territoryIDs)
			if err != nil {
				return err
			}
			report.JobsResumed = resumed
		}

		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "licensee",
			EntityID:    lic.ID,
			Action:      "licensee.reactivate",
			PerformedBy: req.Actor,
			Before:      before,
			After:       lic,
			Notes:       req.Notes,
		})
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		zap.L().Error("failed to reactivate licensee", zap.String("licensee_id", lic.ID), zap.Error(err))
		return nil, errutil.Internal("failed to reactivate licensee", errutil.WithErr(err))
	}

	s.notify(notification.NewLicenseeReactivatedTask(notification.LicenseeEventPayload{
		LicenseeID:  lic.ID,
		CompanyName: lic.CompanyName,
		Actor:       req.Actor,
		Notes:       req.Notes,
	}))
	return report, nil
}

type TerminateReport struct {
	TerritoriesUnassigned int                    `json:"territories_unassigned"`
	JobsResumed           int64                  `json:"jobs_resumed"`
	ConsultantsAffected   int64                  `json:"consultants_affected"`
	FinalSettlement       *settlement.Settlement `json:"final_settlement,omitempty"`
	FinalRecordCount      int                    `json:"final_record_count"`
}

// Terminate ends the relationship for good. Territories revert to the
// operator, jobs paused by a prior suspension resume under operator control,
// and any pending revenue is swept into a final settlement. Everything runs
// in one transaction; a failed final settlement rolls the whole termination
// back.
func (s *Service) Terminate(ctx context.Context, req LifecycleRequest) (*TerminateReport, error) {
	lic, err := s.Get(ctx, req.LicenseeID)
	if err != nil {
		return nil, err
	}
	if lic.Status == StatusTerminated {
		return nil, errutil.UnprocessableEntity("licensee is already terminated")
	}

	before := *lic
	report := &TerminateReport{}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&Licensee{}).
			Where("id = ? AND status IN ?", lic.ID, []Status{StatusActive, StatusSuspended}).
			Updates(map[string]interface{}{
				"status":        StatusTerminated,
				"terminated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.UnprocessableEntity("licensee is already terminated")
		}
		lic.Status = StatusTerminated
		lic.TerminatedAt = &now

		territoryIDs, err := s.ownedTerritoryIDs(ctx, tx, lic.ID)
		if err != nil {
			return err
		}
		report.TerritoriesUnassigned = len(territoryIDs)

		if len(territoryIDs) > 0 {
			resumed, err := resumeSuspendedJobs(tx, territoryIDs)
			if err != nil {
				return err
			}
			report.JobsResumed = resumed

			if err := tx.Model(&consultant.Consultant{}).
				Where("territory_id IN ?", territoryIDs).
				Count(&report.ConsultantsAffected).Error; err != nil {
				return err
			}

			if err := tx.Model(&territory.Territory{}).
				Where("id IN ?", territoryIDs).
				Updates(map[string]interface{}{
					"owner_type":  territory.OwnerOperator,
					"licensee_id": nil,
				}).Error; err != nil {
				return err
			}
		}

		stl, n, err := s.settlements.GenerateWithinTx(ctx, tx, lic.ID, now, req.Actor)
		if err != nil {
			return err
		}
		report.FinalSettlement = stl
		report.FinalRecordCount = n

		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "licensee",
			EntityID:    lic.ID,
			Action:      "licensee.terminate",
			PerformedBy: req.Actor,
			Before:      before,
			After:       lic,
			Notes:       req.Notes,
		})
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		zap.L().Error("failed to terminate licensee", zap.String("licensee_id", lic.ID), zap.Error(err))
		return nil, errutil.Internal("failed to terminate licensee", errutil.WithErr(err))
	}

	s.notify(notification.NewLicenseeTerminatedTask(notification.LicenseeEventPayload{
		LicenseeID:  lic.ID,
		CompanyName: lic.CompanyName,
		Actor:       req.Actor,
		Notes:       req.Notes,
	}))
	return report, nil
}

type ImpactPreview struct {
	LicenseeID          string          `json:"licensee_id"`
	Status              Status          `json:"status"`
	Territories         int             `json:"territories"`
	OpenJobs            int64           `json:"open_jobs"`
	ActiveConsultants   int64           `json:"active_consultants"`
	PendingRevenueTotal decimal.Decimal `json:"pending_revenue_total"`
}

// GetImpactPreview reports what a suspension or termination would touch,
// using the same predicates the cascades run with. It holds no locks, so the
// numbers are a snapshot, not a promise.
func (s *Service) GetImpactPreview(ctx context.Context, licenseeID string) (*ImpactPreview, error) {
	lic, err := s.Get(ctx, licenseeID)
	if err != nil {
		return nil, err
	}

	preview := &ImpactPreview{LicenseeID: lic.ID, Status: lic.Status}

	territoryIDs, err := s.ownedTerritoryIDs(ctx, s.db, lic.ID)
	if err != nil {
		return nil, errutil.Internal("failed to resolve territories", errutil.WithErr(err))
	}
	preview.Territories = len(territoryIDs)

	if len(territoryIDs) > 0 {
		if err := s.db.WithContext(ctx).Model(&allocation.Job{}).
			Where("territory_id IN ? AND status = ?", territoryIDs, allocation.JobOpen).
			Count(&preview.OpenJobs).Error; err != nil {
			return nil, errutil.Internal("failed to count open jobs", errutil.WithErr(err))
		}
		if err := s.db.WithContext(ctx).Model(&consultant.Consultant{}).
			Where("territory_id IN ? AND status = ?", territoryIDs, consultant.StatusActive).
			Count(&preview.ActiveConsultants).Error; err != nil {
			return nil, errutil.Internal("failed to count consultants", errutil.WithErr(err))
		}
	}

	total, err := s.settlements.PendingRevenueTotal(ctx, lic.ID)
	if err != nil {
		return nil, err
	}
	preview.PendingRevenueTotal = total

	return preview, nil
}

func (s *Service) ownedTerritoryIDs(ctx context.Context, tx *gorm.DB, licenseeID string) ([]string, error) {
	var ids []string
	err := tx.WithContext(ctx).Model(&territory.Territory{}).
		Where("owner_type = ? AND licensee_id = ?", territory.OwnerLicensee, licenseeID).
		Pluck("id", &ids).Error
	return ids, err
}

func resumeSuspendedJobs(tx *gorm.DB, territoryIDs []string) (int64, error) {
	res := tx.Model(&allocation.Job{}).
		Where("territory_id IN ? AND status = ? AND pause_reason = ?",
			territoryIDs, allocation.JobOnHold, allocation.PausedBySuspension).
		Updates(map[string]interface{}{
			"status":       allocation.JobOpen,
			"pause_reason": "",
		})
	return res.RowsAffected, res.Error
}

func (s *Service) notify(t *asynq.Task) {
	if s.enqueuer == nil || t == nil {
		return
	}
	if _, err := s.enqueuer.Enqueue(t); err != nil {
		zap.L().Warn("failed to enqueue licensee task", zap.Error(err))
	}
}
