package consultant

import (
	"context"

	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/pkg/repository"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/territory"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	recorder    audit.Recorder
	consultants repository.Repository[Consultant]
	territories repository.Repository[territory.Territory]
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
		consultants: repository.ProvideStore[Consultant](p.DB),
		territories: repository.ProvideStore[territory.Territory](p.DB),
	}
}

type CreateRequest struct {
	TerritoryID  string
	Name         string
	Email        string
	Role         string
	MaxJobs      int
	MaxEmployers int
	Actor        string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Consultant, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if req.Name == "" || req.TerritoryID == "" {
		return nil, errutil.ValidationFailed("consultant name and territory are required")
	}
	if req.MaxJobs <= 0 {
		return nil, errutil.ValidationFailed("max_jobs must be positive")
	}

	t, err := s.territories.FindOne(ctx, &territory.Territory{ID: req.TerritoryID})
	if err != nil {
		return nil, errutil.Internal("failed to resolve territory", errutil.WithErr(err))
	}
	if t == nil {
		return nil, errutil.NotFound("territory not found")
	}

	c := &Consultant{
		ID:           s.node.Generate().String(),
		TerritoryID:  req.TerritoryID,
		Name:         req.Name,
		Email:        req.Email,
		Role:         req.Role,
		Status:       StatusActive,
		Availability: Available,
		MaxJobs:      req.MaxJobs,
		MaxEmployers: req.MaxEmployers,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "consultant",
			EntityID:    c.ID,
			Action:      "consultant.create",
			PerformedBy: req.Actor,
			After:       c,
		})
	})
	if err != nil {
		zap.L().Error("failed to create consultant", zap.Error(err))
		return nil, errutil.Internal("failed to create consultant", errutil.WithErr(err))
	}

	return c, nil
}

func (s *Service) Get(ctx context.Context, consultantID string) (*Consultant, error) {
	c, err := s.consultants.FindOne(ctx, &Consultant{ID: consultantID})
	if err != nil {
		return nil, errutil.Internal("failed to get consultant", errutil.WithErr(err))
	}
	if c == nil {
		return nil, errutil.NotFound("consultant not found")
	}
	return c, nil
}

type SetAvailabilityRequest struct {
	ConsultantID string
	Availability Availability
	Actor        string
}

func (s *Service) SetAvailability(ctx context.Context, req SetAvailabilityRequest) (*Consultant, error) {
	if req.Availability.String() == "" {
		return nil, errInvalidAvailability
	}

	c, err := s.Get(ctx, req.ConsultantID)
	if err != nil {
		return nil, err
	}

	before := *c

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Consultant{}).
			Where("id = ?", c.ID).
			Update("availability", req.Availability).Error; err != nil {
			return err
		}
		c.Availability = req.Availability
		return s.recorder.Write(ctx, tx, audit.Record{
			EntityType:  "consultant",
			EntityID:    c.ID,
			Action:      "consultant.set_availability",
			PerformedBy: req.Actor,
			Before:      before,
			After:       c,
		})
	})
	if err != nil {
		return nil, errutil.Internal("failed to update availability", errutil.WithErr(err))
	}

	return c, nil
}

// ListEligible returns consultants of a territory matching the filter,
// ordered by ascending load then seniority so callers can staff the least
// loaded agent first.
func (s *Service) ListEligible(ctx context.Context, territoryID string, filter Filter) ([]*Consultant, error) {
	if territoryID == "" {
		return nil, errutil.ValidationFailed("territory id is required")
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Where("territory_id = ? AND status = ?", territoryID, StatusActive)

	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.Availability != "" {
		query = query.Where("availability = ?", filter.Availability)
	}
	if filter.Industry != "" {
		query = query.Where("industries LIKE ?", `%"`+filter.Industry+`"%`)
	}
	if filter.Language != "" {
		query = query.Where("languages LIKE ?", `%"`+filter.Language+`"%`)
	}
	if filter.Search != "" {
		query = query.Where("name LIKE ? OR email LIKE ?", "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var results []*Consultant
	if err := query.Order("current_jobs ASC, created_at ASC").Find(&results).Error; err != nil {
		zap.L().Error("failed to list eligible consultants", zap.Error(err))
		return nil, errutil.Internal("failed to list eligible consultants", errutil.WithErr(err))
	}

	return results, nil
}

// PickEligibleTx resolves the auto-assignment target inside the caller's
// transaction: the least-loaded available, active consultant of the territory
// with spare capacity, ties broken by earliest created_at. Returns nil when
// no consultant qualifies.
func PickEligibleTx(tx *gorm.DB, territoryID string) (*Consultant, error) {
	var candidates []*Consultant
	err := tx.
		Where("territory_id = ? AND status = ? AND availability = ? AND current_jobs < max_jobs",
			territoryID, StatusActive, Available).
		Order("current_jobs ASC, created_at ASC").
		Limit(1).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[0], nil
}
