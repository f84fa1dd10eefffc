package settlement

import "go.uber.org/fx"

var Module = fx.Module("settlement.module",
	fx.Provide(
		NewService,
	),
)

var SchedulerModule = fx.Module("settlement.scheduler",
	Module,
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
