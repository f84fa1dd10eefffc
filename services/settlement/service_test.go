package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type seqStub struct {
	counter atomic.Int64
}

func (s *seqStub) NextTerritoryCode(ctx context.Context) (string, error) {
	return fmt.Sprintf("TER%03d", s.counter.Add(1)), nil
}

func (s *seqStub) NextJobCode(ctx context.Context) (string, error) {
	return fmt.Sprintf("JOB-%03d", s.counter.Add(1)), nil
}

func (s *seqStub) NextSettlementCode(ctx context.Context, licenseeID string) (string, error) {
	return fmt.Sprintf("STL-%s-%03d", licenseeID, s.counter.Add(1)), nil
}

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &RevenueRecord{}, &Settlement{}, &audit.Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Seq:      &seqStub{},
		Recorder: audit.NewRecorder(node),
	})
	return svc, db
}

func record(t *testing.T, svc *Service, licenseeID string, total, pct string, periodEnd time.Time) *RevenueRecord {
	t.Helper()
	rec, err := svc.RecordRevenue(context.Background(), RecordRevenueRequest{
		TerritoryID:  "t-1",
		LicenseeID:   licenseeID,
		PeriodStart:  periodEnd.AddDate(0, -1, 0),
		PeriodEnd:    periodEnd,
		TotalRevenue: decimal.RequireFromString(total),
		SharePct:     decimal.RequireFromString(pct),
		Actor:        "billing",
	})
	require.NoError(t, err)
	return rec
}

func TestRecordRevenueSplitsConserveTotal(t *testing.T) {
	svc, _ := newService(t)

	rec := record(t, svc, "lic-1", "1000", "80", time.Now())
	require.True(t, rec.LicenseeShare.Equal(decimal.RequireFromString("800")))
	require.True(t, rec.OperatorShare.Equal(decimal.RequireFromString("200")))
	require.True(t, rec.LicenseeShare.Add(rec.OperatorShare).Equal(rec.TotalRevenue))
}

func TestRecordRevenueRoundingNeverLosesACent(t *testing.T) {
	svc, _ := newService(t)

	// 33.33% of 100.01 rounds to 33.33; the operator takes the remainder.
	rec := record(t, svc, "lic-1", "100.01", "33.33", time.Now())
	require.True(t, rec.LicenseeShare.Add(rec.OperatorShare).Equal(rec.TotalRevenue),
		"shares %s + %s must equal %s", rec.LicenseeShare, rec.OperatorShare, rec.TotalRevenue)
}

func TestRecordRevenueValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	now := time.Now()

	cases := []RecordRevenueRequest{
		{LicenseeID: "lic-1", PeriodStart: now, PeriodEnd: now, TotalRevenue: decimal.NewFromInt(1)},
		{TerritoryID: "t-1", PeriodStart: now, PeriodEnd: now, TotalRevenue: decimal.NewFromInt(-1)},
		{TerritoryID: "t-1", PeriodStart: now, PeriodEnd: now, SharePct: decimal.NewFromInt(101)},
		{TerritoryID: "t-1", PeriodStart: now, PeriodEnd: now.AddDate(0, 0, -1)},
	}
	for _, req := range cases {
		_, err := svc.RecordRevenue(ctx, req)
		var be errutil.BaseError
		require.True(t, errors.As(err, &be))
		require.Equal(t, errutil.StatusValidationFailed, be.Status())
	}
}

func TestGenerateSettlementClaimsRecords(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	cutoff := time.Now()

	record(t, svc, "lic-1", "1000", "80", cutoff.AddDate(0, 0, -10))
	record(t, svc, "lic-1", "500", "80", cutoff.AddDate(0, 0, -5))
	record(t, svc, "lic-2", "700", "50", cutoff.AddDate(0, 0, -5))
	record(t, svc, "lic-1", "900", "80", cutoff.AddDate(0, 1, 0)) // beyond cutoff

	result, err := svc.GenerateSettlement(ctx, "lic-1", cutoff, "ops")
	require.NoError(t, err)
	require.Equal(t, 2, result.RecordsIncluded)

	stl := result.Settlement
	require.True(t, stl.TotalRevenue.Equal(decimal.RequireFromString("1500")))
	require.True(t, stl.LicenseeShare.Equal(decimal.RequireFromString("1200")))
	require.True(t, stl.OperatorShare.Equal(decimal.RequireFromString("300")))
	require.Equal(t, SettlementPending, stl.Status)

	var claimed int64
	require.NoError(t, db.Model(&RevenueRecord{}).
		Where("settlement_id = ?", stl.ID).Count(&claimed).Error)
	require.Equal(t, int64(2), claimed)

	// Claimed records stay pending until the settlement is paid, but a second
	// generation cannot pick them up again.
	_, err = svc.GenerateSettlement(ctx, "lic-1", cutoff, "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestGenerateAbortsWhenRecordsClaimedMidFlight(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	cutoff := time.Now()

	record(t, svc, "lic-1", "1000", "80", cutoff.AddDate(0, 0, -10))
	record(t, svc, "lic-1", "500", "80", cutoff.AddDate(0, 0, -5))

	// Stamp the rows between the pending-record read and the claim update,
	// the way a concurrent generation committing first would under read
	// committed isolation.
	var fired atomic.Bool
	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("claim_race", func(d *gorm.DB) {
			if d.Statement.Table != "revenue_records" || !fired.CompareAndSwap(false, true) {
				return
			}
			_, execErr := d.Statement.ConnPool.ExecContext(d.Statement.Context,
				"UPDATE revenue_records SET settlement_id = 'stl-rival' WHERE settlement_id IS NULL")
			require.NoError(t, execErr)
		}))
	defer db.Callback().Update().Remove("claim_race")

	_, err := svc.GenerateSettlement(ctx, "lic-1", cutoff, "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
	require.True(t, fired.Load())

	// The losing generation must leave nothing behind: no duplicate
	// settlement over the same totals, and the rolled-back transaction
	// never kept the rival stamp it executed on its own connection.
	var settlements int64
	require.NoError(t, db.Model(&Settlement{}).Count(&settlements).Error)
	require.Zero(t, settlements)

	var unclaimed int64
	require.NoError(t, db.Model(&RevenueRecord{}).
		Where("settlement_id IS NULL").Count(&unclaimed).Error)
	require.Equal(t, int64(2), unclaimed)
}

func TestGenerateSettlementWithNothingPending(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.GenerateSettlement(context.Background(), "lic-empty", time.Now(), "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestGenerateSettlementPeriodSpansRecords(t *testing.T) {
	svc, _ := newService(t)
	cutoff := time.Now()

	early := record(t, svc, "lic-1", "100", "50", cutoff.AddDate(0, -2, 0))
	late := record(t, svc, "lic-1", "100", "50", cutoff.AddDate(0, 0, -1))

	result, err := svc.GenerateSettlement(context.Background(), "lic-1", cutoff, "ops")
	require.NoError(t, err)
	require.WithinDuration(t, early.PeriodStart, result.Settlement.PeriodStart, time.Second)
	require.WithinDuration(t, late.PeriodEnd, result.Settlement.PeriodEnd, time.Second)
}

func TestMarkSettlementPaidFlipsRecordsOnce(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	cutoff := time.Now()

	record(t, svc, "lic-1", "1000", "80", cutoff.AddDate(0, 0, -1))
	result, err := svc.GenerateSettlement(ctx, "lic-1", cutoff, "ops")
	require.NoError(t, err)

	paid, err := svc.MarkSettlementPaid(ctx, result.Settlement.ID, "WIRE-42", "finance")
	require.NoError(t, err)
	require.Equal(t, SettlementPaid, paid.Status)
	require.Equal(t, "WIRE-42", *paid.PaymentReference)
	require.NotNil(t, paid.PaidAt)

	var recs []RevenueRecord
	require.NoError(t, db.Where("settlement_id = ?", paid.ID).Find(&recs).Error)
	for _, r := range recs {
		require.Equal(t, RevenuePaid, r.Status)
		require.NotNil(t, r.PaidAt)
	}

	_, err = svc.MarkSettlementPaid(ctx, result.Settlement.ID, "WIRE-43", "finance")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestMarkSettlementPaidUnknown(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.MarkSettlementPaid(context.Background(), "missing", "WIRE-1", "finance")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestGenerateAllSettlesEachLicenseeIndependently(t *testing.T) {
	svc, _ := newService(t)
	cutoff := time.Now()

	record(t, svc, "lic-1", "1000", "80", cutoff.AddDate(0, 0, -1))
	record(t, svc, "lic-2", "600", "50", cutoff.AddDate(0, 0, -1))

	report, err := svc.GenerateAllPendingSettlements(context.Background(), cutoff, "scheduler")
	require.NoError(t, err)
	require.Len(t, report, 2)
	for _, item := range report {
		require.Empty(t, item.Error)
		require.NotNil(t, item.Settlement)
		require.Equal(t, 1, item.RecordsIncluded)
		require.Equal(t, item.LicenseeID, item.Settlement.LicenseeID)
	}

	// Nothing left to settle afterwards.
	report, err = svc.GenerateAllPendingSettlements(context.Background(), cutoff, "scheduler")
	require.NoError(t, err)
	require.Empty(t, report)
}

func TestSettlementStats(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	cutoff := time.Now()

	record(t, svc, "lic-1", "1000", "80", cutoff.AddDate(0, 0, -1))
	record(t, svc, "lic-2", "600", "50", cutoff.AddDate(0, 0, -1))

	first, err := svc.GenerateSettlement(ctx, "lic-1", cutoff, "ops")
	require.NoError(t, err)
	_, err = svc.GenerateSettlement(ctx, "lic-2", cutoff, "ops")
	require.NoError(t, err)
	_, err = svc.MarkSettlementPaid(ctx, first.Settlement.ID, "WIRE-1", "finance")
	require.NoError(t, err)

	stats, err := svc.GetSettlementStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.PendingCount)
	require.Equal(t, int64(1), stats.PaidCount)
	require.True(t, stats.PaidTotal.Equal(decimal.RequireFromString("1000")))
	require.True(t, stats.PendingTotal.Equal(decimal.RequireFromString("600")))
}

func TestPendingRevenueTotal(t *testing.T) {
	svc, _ := newService(t)
	cutoff := time.Now()

	record(t, svc, "lic-1", "100.50", "80", cutoff)
	record(t, svc, "lic-1", "200.25", "80", cutoff)
	record(t, svc, "lic-2", "999", "80", cutoff)

	total, err := svc.PendingRevenueTotal(context.Background(), "lic-1")
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.RequireFromString("300.75")))
}
