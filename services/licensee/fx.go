package licensee

import "go.uber.org/fx"

var Module = fx.Module("licensee.module",
	fx.Provide(NewService),
)
