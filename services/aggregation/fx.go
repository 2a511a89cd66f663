package aggregation

import "go.uber.org/fx"

var Module = fx.Module("aggregation.service",
	fx.Provide(NewService),
)
