package main

import (
	"go.uber.org/fx"

	"talentgrid-controlplane/pkg/config"
	"talentgrid-controlplane/pkg/db"
	"talentgrid-controlplane/pkg/gen"
	"talentgrid-controlplane/pkg/logger"
	"talentgrid-controlplane/pkg/redis"
	"talentgrid-controlplane/pkg/sequence"
	"talentgrid-controlplane/pkg/task"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/notification"
	"talentgrid-controlplane/services/settlement"
)

// The worker process runs asynq handlers for post-commit notifications and
// the monthly settlement scheduler.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		task.Server,

		audit.Module,
		settlement.Module,
		settlement.SchedulerModule,
		notification.Module,
	)

	app.Run()
}
