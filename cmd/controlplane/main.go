package main

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"talentgrid-controlplane/internal/httpapi"
	"talentgrid-controlplane/internal/server"
	"talentgrid-controlplane/pkg/config"
	"talentgrid-controlplane/pkg/db"
	"talentgrid-controlplane/pkg/gen"
	"talentgrid-controlplane/pkg/health"
	"talentgrid-controlplane/pkg/logger"
	"talentgrid-controlplane/pkg/redis"
	"talentgrid-controlplane/pkg/sequence"
	"talentgrid-controlplane/pkg/task"
	"talentgrid-controlplane/services/allocation"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/consultant"
	"talentgrid-controlplane/services/licensee"
	"talentgrid-controlplane/services/settlement"
	"talentgrid-controlplane/services/territory"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,

		audit.Module,
		territory.Module,
		consultant.Module,
		allocation.Module,
		licensee.Module,
		settlement.Module,

		health.Module,
		httpapi.Module,
		server.Module,

		fx.Invoke(instrument, migrate),
	)

	app.Run()
}

func instrument(cfg *config.Config, gormDB *gorm.DB) {
	if err := db.Otel(gormDB); err != nil {
		zap.L().Warn("db telemetry disabled", zap.Error(err))
	}
	if err := db.Metric(gormDB, cfg.Database.DBNAME); err != nil {
		zap.L().Warn("db metrics disabled", zap.Error(err))
	}
}

func migrate(gormDB *gorm.DB) {
	err := gormDB.AutoMigrate(
		&territory.Territory{},
		&licensee.Licensee{},
		&consultant.Consultant{},
		&allocation.Job{},
		&allocation.JobAssignment{},
		&settlement.RevenueRecord{},
		&settlement.Settlement{},
		&audit.Entry{},
	)
	if err != nil {
		zap.L().Fatal("failed to run migrations", zap.Error(err))
	}
}
