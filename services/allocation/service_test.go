package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"talentgrid-controlplane/pkg/config"
	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/consultant"
	"talentgrid-controlplane/services/territory"
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

func newService(t *testing.T, cfg *config.Config) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t,
		&Job{}, &JobAssignment{},
		&consultant.Consultant{}, &territory.Territory{}, &audit.Entry{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	if cfg == nil {
		cfg = &config.Config{}
	}
	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Seq:      &seqStub{},
		Config:   cfg,
		Recorder: audit.NewRecorder(node),
	})
	return svc, db
}

func seedConsultant(t *testing.T, db *gorm.DB, id, territoryID string, maxJobs, currentJobs int) {
	t.Helper()
	require.NoError(t, db.Create(&consultant.Consultant{
		ID:           id,
		TerritoryID:  territoryID,
		Name:         id,
		Status:       consultant.StatusActive,
		Availability: consultant.Available,
		MaxJobs:      maxJobs,
		CurrentJobs:  currentJobs,
	}).Error)
}

func seedJob(t *testing.T, svc *Service, title string) *Job {
	t.Helper()
	job, err := svc.CreateJob(context.Background(), CreateJobRequest{Title: title, Actor: "ops"})
	require.NoError(t, err)
	return job
}

func currentJobs(t *testing.T, db *gorm.DB, consultantID string) int {
	t.Helper()
	var c consultant.Consultant
	require.NoError(t, db.First(&c, "id = ?", consultantID).Error)
	return c.CurrentJobs
}

func TestCreateJobStartsOpenUnassigned(t *testing.T) {
	svc, _ := newService(t, nil)

	job := seedJob(t, svc, "Backend recruiter search")
	require.Equal(t, JobOpen, job.Status)
	require.Equal(t, SourceUnassigned, job.AssignmentSource)
	require.NotEmpty(t, job.Code)
	require.Nil(t, job.ConsultantID)
}

func TestAssignReservesCapacityAndInheritsTerritory(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "c-1", "t-1", 3, 0)
	job := seedJob(t, svc, "Search")

	assigned, err := svc.AssignToConsultant(context.Background(), AssignRequest{
		JobID: job.ID, ConsultantID: "c-1", Actor: "ops", Source: SourceManualOperator,
	})
	require.NoError(t, err)
	require.Equal(t, "c-1", *assigned.ConsultantID)
	require.Equal(t, "t-1", *assigned.TerritoryID)
	require.Equal(t, SourceManualOperator, assigned.AssignmentSource)
	require.Equal(t, 1, currentJobs(t, db, "c-1"))
}

func TestAssignSamePairIsIdempotent(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "c-1", "t-1", 3, 0)
	job := seedJob(t, svc, "Search")
	ctx := context.Background()

	_, err := svc.AssignToConsultant(ctx, AssignRequest{JobID: job.ID, ConsultantID: "c-1", Actor: "ops", Source: SourceManualOperator})
	require.NoError(t, err)
	_, err = svc.AssignToConsultant(ctx, AssignRequest{JobID: job.ID, ConsultantID: "c-1", Actor: "lead", Source: SourceManualLicensee})
	require.NoError(t, err)

	require.Equal(t, 1, currentJobs(t, db, "c-1"))

	var active []JobAssignment
	require.NoError(t, db.Where("job_id = ? AND status = ?", job.ID, AssignmentActive).Find(&active).Error)
	require.Len(t, active, 1)
	require.Equal(t, "lead", active[0].AssignedBy)
	require.Equal(t, SourceManualLicensee, active[0].Source)
}

func TestAssignToFullConsultantConflicts(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "c-1", "t-1", 1, 1)
	job := seedJob(t, svc, "Search")

	_, err := svc.AssignToConsultant(context.Background(), AssignRequest{
		JobID: job.ID, ConsultantID: "c-1", Actor: "ops", Source: SourceManualOperator,
	})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	// The failed assignment must leave no trace.
	var count int64
	require.NoError(t, db.Model(&JobAssignment{}).Count(&count).Error)
	require.Zero(t, count)
	require.Equal(t, 1, currentJobs(t, db, "c-1"))
}

func TestAssignUnknownConsultant(t *testing.T) {
	svc, _ := newService(t, nil)
	job := seedJob(t, svc, "Search")

	_, err := svc.AssignToConsultant(context.Background(), AssignRequest{
		JobID: job.ID, ConsultantID: "ghost", Actor: "ops", Source: SourceManualOperator,
	})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestAssignRequiresExplicitSource(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.AssignToConsultant(context.Background(), AssignRequest{
		JobID: "j-1", ConsultantID: "c-1", Actor: "ops", Source: SourceUnassigned,
	})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}

func TestParseManualSource(t *testing.T) {
	cases := []struct {
		in      string
		want    AssignmentSource
		wantErr bool
	}{
		{in: "", want: SourceManualOperator},
		{in: "manual_operator", want: SourceManualOperator},
		{in: "manual_licensee", want: SourceManualLicensee},
		{in: "auto", wantErr: true},
		{in: "unassigned", wantErr: true},
		{in: "portal", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseManualSource(tc.in)
		if tc.wantErr {
			var be errutil.BaseError
			require.True(t, errors.As(err, &be), "input %q", tc.in)
			require.Equal(t, errutil.StatusValidationFailed, be.Status())
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestReassignToAnotherConsultantReleasesFirst(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "c-1", "t-1", 3, 0)
	seedConsultant(t, db, "c-2", "t-2", 3, 0)
	job := seedJob(t, svc, "Search")
	ctx := context.Background()

	_, err := svc.AssignToConsultant(ctx, AssignRequest{JobID: job.ID, ConsultantID: "c-1", Actor: "ops", Source: SourceManualOperator})
	require.NoError(t, err)
	assigned, err := svc.AssignToConsultant(ctx, AssignRequest{JobID: job.ID, ConsultantID: "c-2", Actor: "ops", Source: SourceManualOperator})
	require.NoError(t, err)

	require.Equal(t, "c-2", *assigned.ConsultantID)
	require.Equal(t, "t-2", *assigned.TerritoryID)
	require.Equal(t, 0, currentJobs(t, db, "c-1"))
	require.Equal(t, 1, currentJobs(t, db, "c-2"))

	var completed []JobAssignment
	require.NoError(t, db.Where("status = ?", AssignmentCompleted).Find(&completed).Error)
	require.Len(t, completed, 1)
	require.Equal(t, "c-1", completed[0].ConsultantID)
	require.NotNil(t, completed[0].CompletedAt)
}

func TestAssignToTerritoryPicksLeastLoaded(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "loaded", "t-1", 5, 3)
	seedConsultant(t, db, "light", "t-1", 5, 1)
	job := seedJob(t, svc, "Search")

	pickedID, err := svc.AssignToTerritory(context.Background(), job.ID, "t-1", "ops")
	require.NoError(t, err)
	require.Equal(t, "light", pickedID)

	got, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, SourceAuto, got.AssignmentSource)
}

func TestAssignToTerritoryWithoutCandidates(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "full", "t-1", 1, 1)
	job := seedJob(t, svc, "Search")

	_, err := svc.AssignToTerritory(context.Background(), job.ID, "t-1", "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestAutoAssignFallsBackToDefaultTerritory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Allocation.DefaultTerritoryID = "t-default"
	svc, db := newService(t, cfg)
	seedConsultant(t, db, "c-1", "t-default", 3, 0)
	job := seedJob(t, svc, "Search")

	pickedID, err := svc.AutoAssign(context.Background(), job.ID, "ops")
	require.NoError(t, err)
	require.Equal(t, "c-1", pickedID)
}

func TestAutoAssignWithoutAnyTerritory(t *testing.T) {
	svc, _ := newService(t, nil)
	job := seedJob(t, svc, "Search")

	_, err := svc.AutoAssign(context.Background(), job.ID, "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestUnassignReleasesCapacityAndClearsLinkage(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "c-1", "t-1", 3, 0)
	job := seedJob(t, svc, "Search")
	ctx := context.Background()

	_, err := svc.AssignToConsultant(ctx, AssignRequest{JobID: job.ID, ConsultantID: "c-1", Actor: "ops", Source: SourceManualOperator})
	require.NoError(t, err)

	require.NoError(t, svc.Unassign(ctx, job.ID, "ops"))
	require.Equal(t, 0, currentJobs(t, db, "c-1"))

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Nil(t, got.ConsultantID)
	require.Equal(t, SourceUnassigned, got.AssignmentSource)

	// Repeating the call, or aiming at a job that never existed, is a no-op.
	require.NoError(t, svc.Unassign(ctx, job.ID, "ops"))
	require.NoError(t, svc.Unassign(ctx, "missing", "ops"))
	require.Equal(t, 0, currentJobs(t, db, "c-1"))
}

func TestReassignConsultantJobsMovesEverything(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "from", "t-1", 5, 0)
	seedConsultant(t, db, "to", "t-2", 5, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := seedJob(t, svc, fmt.Sprintf("Search %d", i))
		_, err := svc.AssignToConsultant(ctx, AssignRequest{JobID: job.ID, ConsultantID: "from", Actor: "ops", Source: SourceManualOperator})
		require.NoError(t, err)
	}

	moved, err := svc.ReassignConsultantJobs(ctx, "from", "to", "ops")
	require.NoError(t, err)
	require.Equal(t, 3, moved)
	require.Equal(t, 0, currentJobs(t, db, "from"))
	require.Equal(t, 3, currentJobs(t, db, "to"))

	var jobs []Job
	require.NoError(t, db.Where("consultant_id = ?", "to").Find(&jobs).Error)
	require.Len(t, jobs, 3)
	for _, j := range jobs {
		require.Equal(t, "t-2", *j.TerritoryID)
	}
}

func TestReassignConsultantJobsIsAllOrNothing(t *testing.T) {
	svc, db := newService(t, nil)
	seedConsultant(t, db, "from", "t-1", 5, 0)
	seedConsultant(t, db, "to", "t-2", 2, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := seedJob(t, svc, fmt.Sprintf("Search %d", i))
		_, err := svc.AssignToConsultant(ctx, AssignRequest{JobID: job.ID, ConsultantID: "from", Actor: "ops", Source: SourceManualOperator})
		require.NoError(t, err)
	}

	_, err := svc.ReassignConsultantJobs(ctx, "from", "to", "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	// Destination cannot hold three more jobs, so nothing moves at all.
	require.Equal(t, 3, currentJobs(t, db, "from"))
	require.Equal(t, 1, currentJobs(t, db, "to"))

	var count int64
	require.NoError(t, db.Model(&JobAssignment{}).
		Where("consultant_id = ? AND status = ?", "from", AssignmentActive).
		Count(&count).Error)
	require.Equal(t, int64(3), count)
}

func TestReassignRejectsSameConsultant(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.ReassignConsultantJobs(context.Background(), "c-1", "c-1", "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}
