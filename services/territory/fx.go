package territory

import "go.uber.org/fx"

var Module = fx.Module("territory.module",
	fx.Provide(
		NewService,
	),
)
