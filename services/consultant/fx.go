package consultant

import "go.uber.org/fx"

var Module = fx.Module("consultant.module",
	fx.Provide(
		NewService,
	),
)
