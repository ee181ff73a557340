package rewards

import "go.uber.org/fx"

var Module = fx.Module("rewards.guard",
	fx.Provide(NewRepository),
	fx.Provide(New),
)
