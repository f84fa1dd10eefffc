package audit

import (
	"context"

	"talentgrid-controlplane/pkg/db/option"
	"talentgrid-controlplane/pkg/db/pagination"
	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	entries repository.Repository[Entry]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		entries: repository.ProvideStore[Entry](p.DB),
	}
}

type ListRequest struct {
	EntityType string
	EntityID   string
	Limit      int
}

// List returns audit entries newest-first, optionally scoped to one entity.
func (s *Service) List(ctx context.Context, req ListRequest) ([]*Entry, error) {
	query := &Entry{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
	}

	opts := []option.QueryOption{
		option.OrderBy("created_at DESC"),
		option.ApplyPagination(pagination.Pagination{Limit: req.Limit}),
	}

	entries, err := s.entries.Find(ctx, query, opts...)
	if err != nil {
		zap.L().Error("failed to list audit entries", zap.Error(err))
		return nil, errutil.Internal("failed to list audit entries", errutil.WithErr(err))
	}

	return entries, nil
}
