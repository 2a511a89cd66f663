package revenue

import "go.uber.org/fx"

var Module = fx.Module("revenue.service",
	fx.Provide(NewService),
)
