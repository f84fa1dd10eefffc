package territory

import (
	"context"

	"talentgrid-controlplane/pkg/db/option"
	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/pkg/repository"
	"talentgrid-controlplane/services/audit"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	recorder    audit.Recorder
	territories repository.Repository[Territory]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Recorder audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		recorder:    p.Recorder,
		territories: repository.ProvideStore[Territory](p.DB),
	}
}

type CreateRequest struct {
	Name       string
	Code       string
	LicenseeID string
	Actor      string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Territory, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if req.Name == "" {
		return nil, errutil.ValidationFailed("territory name is required")
	}

	code := req.Code
	if code == "" {
		code = slug.Make(req.Name)
	}

	exist, err := s.territories.FindOne(ctx, &Territory{Code: code})
	if err != nil {
		zapLog.Error("failed to check territory code", zap.Error(err))
		return nil, errutil.Internal("failed to check territory code", errutil.WithErr(err))
	}
	if exist != nil {
		return nil, errutil.Conflict("territory code already exists")
	}

	t := &Territory{
		ID:        s.node.Generate().String(),
		Name:      req.Name,
		Code:      code,
		OwnerType: OwnerOperator,
	}
	if req.LicenseeID != "" {
		t.OwnerType = OwnerLicensee
		t.LicenseeID = &req.LicenseeID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "territory",
			EntityID:    t.ID,
			Action:      "territory.create",
			PerformedBy: req.Actor,
			After:       t,
		})
	})
	if err != nil {
		zapLog.Error("failed to create territory", zap.Error(err))
		return nil, errutil.Internal("failed to create territory", errutil.WithErr(err))
	}

	return t, nil
}

func (s *Service) Get(ctx context.Context, territoryID string) (*Territory, error) {
	t, err := s.territories.FindOne(ctx, &Territory{ID: territoryID})
	if err != nil {
		return nil, errutil.Internal("failed to get territory", errutil.WithErr(err))
	}
	if t == nil {
		return nil, errutil.NotFound("territory not found")
	}
	return t, nil
}

type ListRequest struct {
	OwnerType  OwnerType
	LicenseeID string
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*Territory, error) {
	query := &Territory{OwnerType: req.OwnerType}
	if req.LicenseeID != "" {
		query.LicenseeID = &req.LicenseeID
	}

	territories, err := s.territories.Find(ctx, query, option.OrderBy("created_at ASC"))
	if err != nil {
		return nil, errutil.Internal("failed to list territories", errutil.WithErr(err))
	}
	return territories, nil
}

// AssignToLicensee delegates an operator-owned territory to a licensee.
func (s *Service) AssignToLicensee(ctx context.Context, territoryID, licenseeID, actor string) (*Territory, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	t, err := s.Get(ctx, territoryID)
	if err != nil {
		return nil, err
	}

	if t.OwnerType == OwnerLicensee {
		return nil, errutil.UnprocessableEntity("territory is already delegated to a licensee")
	}

	before := *t

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Territory{}).
			Where("id = ? AND owner_type = ?", territoryID, OwnerOperator).
			Updates(map[string]any{
				"owner_type":  OwnerLicensee,
				"licensee_id": licenseeID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.UnprocessableEntity("territory is already delegated to a licensee")
		}

		t.OwnerType = OwnerLicensee
		t.LicenseeID = &licenseeID

		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "territory",
			EntityID:    t.ID,
			Action:      "territory.assign_licensee",
			PerformedBy: actor,
			Before:      before,
			After:       t,
		})
	})
	if err != nil {
		if _, ok := err.(errutil.BaseError); ok {
			return nil, err
		}
		zap.L().Error("failed to assign territory", zap.Error(err))
		return nil, errutil.Internal("failed to assign territory", errutil.WithErr(err))
	}

	return t, nil
}
