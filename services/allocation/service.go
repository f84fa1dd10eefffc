package allocation

import (
	"context"
	"errors"
	"time"

	"talentgrid-controlplane/pkg/config"
	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/pkg/repository"
	"talentgrid-controlplane/pkg/sequence"
	"talentgrid-controlplane/pkg/task"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/consultant"
	"talentgrid-controlplane/services/notification"
	"talentgrid-controlplane/services/territory"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoEligibleConsultant is returned when a territory holds no active,
// available consultant with spare capacity.
var ErrNoEligibleConsultant = errutil.UnprocessableEntity("no eligible consultant available in territory")

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	seq         sequence.Generator
	cfg         *config.Config
	recorder    audit.Recorder
	enqueuer    task.Enqueuer
	jobs        repository.Repository[Job]
	territories repository.Repository[territory.Territory]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Seq      sequence.Generator
	Config   *config.Config
	Recorder audit.Recorder
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		seq:         p.Seq,
		cfg:         p.Config,
		recorder:    p.Recorder,
		enqueuer:    p.Enqueuer,
		jobs:        repository.ProvideStore[Job](p.DB),
		territories: repository.ProvideStore[territory.Territory](p.DB),
	}
}

type CreateJobRequest struct {
	Title       string
	TerritoryID string
	Actor       string
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if req.Title == "" {
		return nil, errutil.ValidationFailed("job title is required")
	}

	job := &Job{
		ID:               s.node.Generate().String(),
		Title:            req.Title,
		Status:           JobOpen,
		AssignmentSource: SourceUnassigned,
	}

	if req.TerritoryID != "" {
		t, err := s.territories.FindOne(ctx, &territory.Territory{ID: req.TerritoryID})
		if err != nil {
			return nil, errutil.Internal("failed to resolve territory", errutil.WithErr(err))
		}
		if t == nil {
			return nil, errutil.NotFound("territory not found")
		}
		job.TerritoryID = &req.TerritoryID
	}

	code, err := s.seq.NextJobCode(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to generate job code", errutil.WithErr(err))
	}
	job.Code = code

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "job",
			EntityID:    job.ID,
			Action:      "job.create",
			PerformedBy: req.Actor,
			After:       job,
		})
	})
	if err != nil {
		zap.L().Error("failed to create job", zap.Error(err))
		return nil, errutil.Internal("failed to create job", errutil.WithErr(err))
	}

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.jobs.FindOne(ctx, &Job{ID: jobID})
	if err != nil {
		return nil, errutil.Internal("failed to get job", errutil.WithErr(err))
	}
	if job == nil {
		return nil, errutil.NotFound("job not found")
	}
	return job, nil
}

type AssignRequest struct {
	JobID        string
	ConsultantID string
	Actor        string
	Source       AssignmentSource
}

// AssignToConsultant links a job to a consultant, reserving one capacity
// slot. The job inherits the consultant's territory. Re-running the same
// pair updates the active assignment instead of duplicating it.
func (s *Service) AssignToConsultant(ctx context.Context, req AssignRequest) (*Job, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if req.Source.String() == "" || req.Source == SourceUnassigned {
		return nil, errutil.ValidationFailed("assignment source must be manual_operator, manual_licensee or auto")
	}

	job, err := s.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.assignTx(ctx, tx, job, req.ConsultantID, req.Actor, req.Source)
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		zap.L().Error("failed to assign job", zap.Error(err), zap.String("job_id", req.JobID))
		return nil, errutil.Internal("failed to assign job", errutil.WithErr(err))
	}

	s.notify(notification.NewJobAssignedTask(notification.JobEventPayload{
		JobID:        job.ID,
		ConsultantID: req.ConsultantID,
		TerritoryID:  deref(job.TerritoryID),
		Actor:        req.Actor,
	}))

	return job, nil
}

// assignTx carries the shared assignment cascade. job is mutated in place to
// reflect the committed state.
func (s *Service) assignTx(ctx context.Context, tx *gorm.DB, job *Job, consultantID, actor string, source AssignmentSource) error {
	var c consultant.Consultant
	if err := tx.Where("id = ?", consultantID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("consultant not found")
		}
		return err
	}

	before := *job

	var existing JobAssignment
	err := tx.Where("job_id = ? AND consultant_id = ? AND status = ?", job.ID, consultantID, AssignmentActive).
		First(&existing).Error
	switch {
	case err == nil:
		// Same pair already active: refresh provenance, no capacity change.
		if err := tx.Model(&JobAssignment{}).Where("id = ?", existing.ID).
			Updates(map[string]any{"source": source, "assigned_by": actor}).Error; err != nil {
			return err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.completeActiveAssignmentsTx(tx, job.ID); err != nil {
			return err
		}
		if err := consultant.ReserveCapacityTx(tx, consultantID); err != nil {
			return err
		}
		assignment := &JobAssignment{
			ID:           s.node.Generate().String(),
			JobID:        job.ID,
			ConsultantID: consultantID,
			Status:       AssignmentActive,
			Source:       source,
			AssignedBy:   actor,
			AssignedAt:   time.Now().UTC(),
		}
		if err := tx.Create(assignment).Error; err != nil {
			return err
		}
	default:
		return err
	}

	job.ConsultantID = &c.ID
	job.TerritoryID = &c.TerritoryID
	job.AssignmentSource = source

	if err := tx.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
		"consultant_id":     c.ID,
		"territory_id":      c.TerritoryID,
		"assignment_source": source,
	}).Error; err != nil {
		return err
	}

	return s.recorder.Write(ctx, tx, audit.Record{
		EntityType:  "job",
		EntityID:    job.ID,
		Action:      "job.assign",
		PerformedBy: actor,
		Before:      before,
		After:       job,
	})
}

// completeActiveAssignmentsTx closes every active assignment of the job and
// releases the capacity it held.
func (s *Service) completeActiveAssignmentsTx(tx *gorm.DB, jobID string) error {
	var active []JobAssignment
	if err := tx.Where("job_id = ? AND status = ?", jobID, AssignmentActive).Find(&active).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, a := range active {
		if err := tx.Model(&JobAssignment{}).Where("id = ?", a.ID).Updates(map[string]any{
			"status":       AssignmentCompleted,
			"completed_at": now,
		}).Error; err != nil {
			return err
		}
		if err := consultant.ReleaseCapacityTx(tx, a.ConsultantID, 1); err != nil {
			return err
		}
	}
	return nil
}

// AssignToTerritory resolves the least-loaded eligible consultant of the
// territory and delegates to the consultant assignment cascade.
func (s *Service) AssignToTerritory(ctx context.Context, jobID, territoryID, actor string) (string, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	var pickedID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		picked, err := consultant.PickEligibleTx(tx, territoryID)
		if err != nil {
			return err
		}
		if picked == nil {
			return ErrNoEligibleConsultant
		}
		pickedID = picked.ID
		return s.assignTx(ctx, tx, job, picked.ID, actor, SourceAuto)
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return "", err
		}
		zap.L().Error("failed to assign job to territory", zap.Error(err), zap.String("job_id", jobID))
		return "", errutil.Internal("failed to assign job to territory", errutil.WithErr(err))
	}

	s.notify(notification.NewJobAssignedTask(notification.JobEventPayload{
		JobID:        job.ID,
		ConsultantID: pickedID,
		TerritoryID:  territoryID,
		Actor:        actor,
	}))

	return pickedID, nil
}

// AutoAssign routes the job through its own territory, falling back to the
// configured default territory when the job has none.
func (s *Service) AutoAssign(ctx context.Context, jobID, actor string) (string, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	territoryID := deref(job.TerritoryID)
	if territoryID == "" {
		territoryID = s.cfg.Allocation.DefaultTerritoryID
	}
	if territoryID == "" {
		return "", ErrNoEligibleConsultant
	}

	return s.AssignToTerritory(ctx, jobID, territoryID, actor)
}

// Unassign completes every active assignment of the job, releases the
// capacity they held and clears the job's linkage. Calling it on an already
// unassigned (or unknown) job is a no-op.
func (s *Service) Unassign(ctx context.Context, jobID, actor string) error {
	job, err := s.jobs.FindOne(ctx, &Job{ID: jobID})
	if err != nil {
		return errutil.Internal("failed to get job", errutil.WithErr(err))
	}
	if job == nil {
		return nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&JobAssignment{}).
			Where("job_id = ? AND status = ?", jobID, AssignmentActive).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 && job.ConsultantID == nil {
			return nil
		}

		before := *job

		if err := s.completeActiveAssignmentsTx(tx, jobID); err != nil {
			return err
		}

		if err := tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
			"consultant_id":     nil,
			"territory_id":      nil,
			"assignment_source": SourceUnassigned,
		}).Error; err != nil {
			return err
		}

		job.ConsultantID = nil
		job.TerritoryID = nil
		job.AssignmentSource = SourceUnassigned

		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "job",
			EntityID:    jobID,
			Action:      "job.unassign",
			PerformedBy: actor,
			Before:      before,
			After:       job,
		})
	})
	if err != nil {
		zap.L().Error("failed to unassign job", zap.Error(err), zap.String("job_id", jobID))
		return errutil.Internal("failed to unassign job", errutil.WithErr(err))
	}

	s.notify(notification.NewJobUnassignedTask(notification.JobEventPayload{
		JobID: jobID,
		Actor: actor,
	}))

	return nil
}

// ReassignConsultantJobs moves every active assignment from one consultant
// to another in a single transaction: either all jobs move or none do.
func (s *Service) ReassignConsultantJobs(ctx context.Context, fromID, toID, actor string) (int, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if fromID == toID {
		return 0, errutil.ValidationFailed("source and destination consultant must differ")
	}

	var moved int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var from, to consultant.Consultant
		if err := tx.Where("id = ?", fromID).First(&from).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("consultant not found")
			}
			return err
		}
		if err := tx.Where("id = ?", toID).First(&to).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("consultant not found")
			}
			return err
		}

		var active []JobAssignment
		if err := tx.Where("consultant_id = ? AND status = ?", fromID, AssignmentActive).
			Find(&active).Error; err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}

		n := len(active)
		if err := consultant.ReserveCapacityNTx(tx, toID, n); err != nil {
			return err
		}
		if err := consultant.ReleaseCapacityTx(tx, fromID, n); err != nil {
			return err
		}

		jobIDs := make([]string, 0, n)
		for _, a := range active {
			jobIDs = append(jobIDs, a.JobID)
		}

		if err := tx.Model(&JobAssignment{}).
			Where("consultant_id = ? AND status = ?", fromID, AssignmentActive).
			Updates(map[string]any{"consultant_id": toID, "assigned_by": actor}).Error; err != nil {
			return err
		}

		if err := tx.Model(&Job{}).Where("id IN ?", jobIDs).Updates(map[string]any{
			"consultant_id": toID,
			"territory_id":  to.TerritoryID,
		}).Error; err != nil {
			return err
		}

		moved = n

		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "consultant",
			EntityID:    fromID,
			Action:      "consultant.reassign_jobs",
			PerformedBy: actor,
			Before:      map[string]any{"consultant_id": fromID, "active_jobs": n},
			After:       map[string]any{"consultant_id": toID, "job_ids": jobIDs},
		})
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return 0, err
		}
		zap.L().Error("failed to reassign consultant jobs", zap.Error(err))
		return 0, errutil.Internal("failed to reassign consultant jobs", errutil.WithErr(err))
	}

	return moved, nil
}

func (s *Service) notify(t *asynq.Task) {
	if s.enqueuer == nil {
		return
	}
	if _, err := s.enqueuer.Enqueue(t); err != nil {
		zap.L().Error("failed to enqueue notification", zap.String("task_type", t.Type()), zap.Error(err))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
