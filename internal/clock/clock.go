package clock

import (
	"time"

	"github.com/smallbiznis/consultly/internal/config"
	"go.uber.org/fx"
)

// Clock supplies the current time in the business timezone.
type Clock interface {
	Now() time.Time
}

type SystemClock struct {
	loc *time.Location
}

func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{loc: loc}
}

func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

var Module = fx.Module("clock",
	fx.Provide(func(rules config.BusinessRules) Clock {
		return NewSystemClock(rules.Location())
	}),
)
