package allocation

import "go.uber.org/fx"

var Module = fx.Module("allocation.module",
	fx.Provide(
		NewService,
	),
)
