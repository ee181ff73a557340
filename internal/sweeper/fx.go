package sweeper

import (
	"github.com/smallbiznis/consultly/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper",
	fx.Provide(NewRepository),
	fx.Provide(provideLeaser),
	fx.Provide(New),
)

// provideLeaser keeps a missing redis client from turning into a non-nil
// interface holding a nil *Locker.
func provideLeaser(locker *ratelimit.Locker) Leaser {
	if locker == nil {
		return nil
	}
	return locker
}
