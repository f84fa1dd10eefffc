package settlement

import (
	"context"
	"errors"
	"time"

	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/pkg/sequence"
	"talentgrid-controlplane/pkg/task"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/notification"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNothingToSettle is returned when a licensee holds no pending,
	// unclaimed revenue up to the requested cutoff.
	ErrNothingToSettle = errutil.UnprocessableEntity("no pending revenue records to settle")

	// ErrAlreadyPaid guards settlement payment idempotency.
	ErrAlreadyPaid = errutil.Conflict("settlement is already paid")

	// ErrRecordsClaimed aborts generation when a concurrent run claimed the
	// selected records first.
	ErrRecordsClaimed = errutil.Conflict("revenue records were claimed by a concurrent settlement")
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	recorder audit.Recorder
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Seq      sequence.Generator
	Recorder audit.Recorder
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		seq:      p.Seq,
		recorder: p.Recorder,
		enqueuer: p.Enqueuer,
	}
}

type RecordRevenueRequest struct {
	TerritoryID  string
	LicenseeID   string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	TotalRevenue decimal.Decimal
	SharePct     decimal.Decimal // licensee share percentage, 0-100
	Actor        string
}

// RecordRevenue appends one ledger entry with its operator/licensee split.
// The billing process supplies the licensee's contractual share percentage.
func (s *Service) RecordRevenue(ctx context.Context, req RecordRevenueRequest) (*RevenueRecord, error) {
	if req.TerritoryID == "" {
		return nil, errutil.ValidationFailed("territory id is required")
	}
	if req.TotalRevenue.IsNegative() {
		return nil, errutil.ValidationFailed("total revenue must not be negative")
	}
	if req.SharePct.IsNegative() || req.SharePct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errutil.ValidationFailed("share percentage must be between 0 and 100")
	}
	if req.PeriodEnd.Before(req.PeriodStart) {
		return nil, errutil.ValidationFailed("period end must not precede period start")
	}

	total := round2(req.TotalRevenue)
	licenseeShare := round2(total.Mul(req.SharePct).Div(decimal.NewFromInt(100)))
	operatorShare := total.Sub(licenseeShare)

	rec := &RevenueRecord{
		ID:            s.node.Generate().String(),
		TerritoryID:   req.TerritoryID,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,
		TotalRevenue:  total,
		LicenseeShare: licenseeShare,
		OperatorShare: operatorShare,
		Status:        RevenuePending,
	}
	if req.LicenseeID != "" {
		rec.LicenseeID = &req.LicenseeID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "revenue_record",
			EntityID:    rec.ID,
			Action:      "revenue.record",
			PerformedBy: req.Actor,
			After:       rec,
		})
	})
	if err != nil {
		zap.L().Error("failed to record revenue", zap.Error(err))
		return nil, errutil.Internal("failed to record revenue", errutil.WithErr(err))
	}

	return rec, nil
}

type GenerateResult struct {
	Settlement      *Settlement `json:"settlement"`
	RecordsIncluded int         `json:"records_included"`
}

// GenerateSettlement batches every pending, unclaimed revenue record of the
// licensee with periodEnd up to the cutoff into one pending settlement.
func (s *Service) GenerateSettlement(ctx context.Context, licenseeID string, periodEnd time.Time, actor string) (*GenerateResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var result *GenerateResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stl, count, err := s.GenerateWithinTx(ctx, tx, licenseeID, periodEnd, actor)
		if err != nil {
			return err
		}
		if stl == nil {
			return ErrNothingToSettle
		}
		result = &GenerateResult{Settlement: stl, RecordsIncluded: count}
		return nil
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		zap.L().Error("failed to generate settlement", zap.Error(err), zap.String("licensee_id", licenseeID))
		return nil, errutil.Internal("failed to generate settlement", errutil.WithErr(err))
	}

	s.notify(notification.NewSettlementGeneratedTask(notification.SettlementEventPayload{
		SettlementID: result.Settlement.ID,
		LicenseeID:   licenseeID,
		Code:         result.Settlement.Code,
	}))

	return result, nil
}

// GenerateWithinTx runs settlement generation inside the caller's
// transaction, so a licensee termination folds its final settlement into the
// same atomic unit. Returns (nil, 0, nil) when nothing is pending.
func (s *Service) GenerateWithinTx(ctx context.Context, tx *gorm.DB, licenseeID string, cutoff time.Time, actor string) (*Settlement, int, error) {
	var pending []RevenueRecord
	if err := tx.
		Where("licensee_id = ? AND status = ? AND settlement_id IS NULL AND period_end <= ?",
			licenseeID, RevenuePending, cutoff).
		Order("period_start ASC").
		Find(&pending).Error; err != nil {
		return nil, 0, err
	}
	if len(pending) == 0 {
		return nil, 0, nil
	}

	total := decimal.Zero
	licenseeShare := decimal.Zero
	operatorShare := decimal.Zero
	periodStart := pending[0].PeriodStart
	periodEnd := pending[0].PeriodEnd
	for _, rec := range pending {
		total = total.Add(rec.TotalRevenue)
		licenseeShare = licenseeShare.Add(rec.LicenseeShare)
		operatorShare = operatorShare.Add(rec.OperatorShare)
		if rec.PeriodStart.Before(periodStart) {
			periodStart = rec.PeriodStart
		}
		if rec.PeriodEnd.After(periodEnd) {
			periodEnd = rec.PeriodEnd
		}
	}

	code, err := s.seq.NextSettlementCode(ctx, licenseeID)
	if err != nil {
		return nil, 0, err
	}

	stl := &Settlement{
		ID:            s.node.Generate().String(),
		Code:          code,
		LicenseeID:    licenseeID,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		TotalRevenue:  round2(total),
		LicenseeShare: round2(licenseeShare),
		OperatorShare: round2(operatorShare),
		Status:        SettlementPending,
		RecordCount:   len(pending),
	}

	if err := tx.Create(stl).Error; err != nil {
		return nil, 0, err
	}

	recordIDs := make([]string, 0, len(pending))
	for _, rec := range pending {
		recordIDs = append(recordIDs, rec.ID)
	}

	// Claim the records. Status stays pending: a generated settlement is not
	// yet a paid one. A concurrent generation may have claimed some of the
	// selected rows between the read and this update, so the affected count
	// must cover every record the totals were built from.
	res := tx.Model(&RevenueRecord{}).
		Where("id IN ? AND settlement_id IS NULL", recordIDs).
		Update("settlement_id", stl.ID)
	if res.Error != nil {
		return nil, 0, res.Error
	}
	if res.RowsAffected != int64(len(pending)) {
		return nil, 0, ErrRecordsClaimed
	}

	if err := s.recorder.Write(ctx, tx, audit.Record{
		EntityType:  "settlement",
		EntityID:    stl.ID,
		Action:      "settlement.generate",
		PerformedBy: actor,
		After:       stl,
		Notes:       code,
	}); err != nil {
		return nil, 0, err
	}

	return stl, len(pending), nil
}

// MarkSettlementPaid flips a pending settlement and every revenue record it
// claimed to paid, atomically. A second call reports ErrAlreadyPaid and
// changes nothing.
func (s *Service) MarkSettlementPaid(ctx context.Context, settlementID, paymentReference, actor string) (*Settlement, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var stl Settlement
	if err := s.db.WithContext(ctx).Where("id = ?", settlementID).First(&stl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("settlement not found")
		}
		return nil, errutil.Internal("failed to get settlement", errutil.WithErr(err))
	}

	before := stl
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Settlement{}).
			Where("id = ? AND status = ?", settlementID, SettlementPending).
			Updates(map[string]any{
				"status":            SettlementPaid,
				"payment_reference": paymentReference,
				"paid_at":           now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyPaid
		}

		if err := tx.Model(&RevenueRecord{}).
			Where("settlement_id = ? AND status = ?", settlementID, RevenuePending).
			Updates(map[string]any{
				"status":  RevenuePaid,
				"paid_at": now,
			}).Error; err != nil {
			return err
		}

		stl.Status = SettlementPaid
		stl.PaymentReference = &paymentReference
		stl.PaidAt = &now

		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "settlement",
			EntityID:    stl.ID,
			Action:      "settlement.mark_paid",
			PerformedBy: actor,
			Before:      before,
			After:       stl,
			Notes:       paymentReference,
		})
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		zap.L().Error("failed to mark settlement paid", zap.Error(err), zap.String("settlement_id", settlementID))
		return nil, errutil.Internal("failed to mark settlement paid", errutil.WithErr(err))
	}

	s.notify(notification.NewSettlementPaidTask(notification.SettlementEventPayload{
		SettlementID:     stl.ID,
		LicenseeID:       stl.LicenseeID,
		Code:             stl.Code,
		PaymentReference: paymentReference,
	}))

	return &stl, nil
}

type BatchItem struct {
	LicenseeID      string      `json:"licensee_id"`
	Settlement      *Settlement `json:"settlement,omitempty"`
	RecordsIncluded int         `json:"records_included"`
	Error           string      `json:"error,omitempty"`
}

// GenerateAllPendingSettlements discovers every licensee with pending,
// unclaimed revenue up to the cutoff and settles each independently. One
// licensee failing never aborts the others.
func (s *Service) GenerateAllPendingSettlements(ctx context.Context, cutoff time.Time, actor string) ([]BatchItem, error) {
	var licenseeIDs []string
	if err := s.db.WithContext(ctx).Model(&RevenueRecord{}).
		Distinct("licensee_id").
		Where("licensee_id IS NOT NULL AND status = ? AND settlement_id IS NULL AND period_end <= ?",
			RevenuePending, cutoff).
		Pluck("licensee_id", &licenseeIDs).Error; err != nil {
		return nil, errutil.Internal("failed to discover licensees with pending revenue", errutil.WithErr(err))
	}

	report := make([]BatchItem, 0, len(licenseeIDs))
	for _, id := range licenseeIDs {
		item := BatchItem{LicenseeID: id}
		result, err := s.GenerateSettlement(ctx, id, cutoff, actor)
		if err != nil {
			item.Error = err.Error()
			zap.L().Warn("settlement generation failed for licensee",
				zap.String("licensee_id", id), zap.Error(err))
		} else {
			item.Settlement = result.Settlement
			item.RecordsIncluded = result.RecordsIncluded
		}
		report = append(report, item)
	}

	return report, nil
}

type Stats struct {
	PendingCount  int64           `json:"pending_count"`
	PaidCount     int64           `json:"paid_count"`
	PendingTotal  decimal.Decimal `json:"pending_total"`
	PaidTotal     decimal.Decimal `json:"paid_total"`
	PendingShares decimal.Decimal `json:"pending_licensee_shares"`
	PaidShares    decimal.Decimal `json:"paid_licensee_shares"`
}

// GetSettlementStats aggregates counts and sums of pending vs paid
// settlements for dashboards.
func (s *Service) GetSettlementStats(ctx context.Context) (*Stats, error) {
	type row struct {
		Status        SettlementStatus
		Count         int64
		TotalRevenue  decimal.Decimal
		LicenseeShare decimal.Decimal
	}

	var rows []row
	if err := s.db.WithContext(ctx).Model(&Settlement{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total_revenue), 0) AS total_revenue, COALESCE(SUM(licensee_share), 0) AS licensee_share").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, errutil.Internal("failed to aggregate settlement stats", errutil.WithErr(err))
	}

	stats := &Stats{
		PendingTotal:  decimal.Zero,
		PaidTotal:     decimal.Zero,
		PendingShares: decimal.Zero,
		PaidShares:    decimal.Zero,
	}
	for _, r := range rows {
		switch r.Status {
		case SettlementPending:
			stats.PendingCount = r.Count
			stats.PendingTotal = r.TotalRevenue
			stats.PendingShares = r.LicenseeShare
		case SettlementPaid:
			stats.PaidCount = r.Count
			stats.PaidTotal = r.TotalRevenue
			stats.PaidShares = r.LicenseeShare
		}
	}

	return stats, nil
}

// PendingRevenueTotal sums the pending revenue of a licensee, used by the
// lifecycle impact preview.
func (s *Service) PendingRevenueTotal(ctx context.Context, licenseeID string) (decimal.Decimal, error) {
	var rows []RevenueRecord
	if err := s.db.WithContext(ctx).
		Where("licensee_id = ? AND status = ?", licenseeID, RevenuePending).
		Find(&rows).Error; err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.TotalRevenue)
	}
	return total, nil
}

func (s *Service) notify(t *asynq.Task) {
	if s.enqueuer == nil {
		return
	}
	if _, err := s.enqueuer.Enqueue(t); err != nil {
		zap.L().Error("failed to enqueue notification", zap.String("task_type", t.Type()), zap.Error(err))
	}
}
