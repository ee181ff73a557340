package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/consultly/internal/clock"
	"github.com/smallbiznis/consultly/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_rewards_guard_config")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Rules config.BusinessRules
	Repo  Repository
}

// Decision is the outcome of one cap check.
type Decision struct {
	Allowed   bool
	Projected int64
	Expected  int64
	Realized  int64
	Max       int64
}

type Guard struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	rules config.BusinessRules
	repo  Repository
}

func New(p Params) (*Guard, error) {
	if p.DB == nil || p.Clock == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		db:    p.DB,
		log:   log.Named("rewards.guard"),
		clock: p.Clock,
		rules: p.Rules,
		repo:  p.Repo,
	}, nil
}

// Check projects the consultant's annual rewards including a prospective
// fee. Historical rows count after the platform cut, the prospective fee
// counts in full. The projection may equal the cap.
func (g *Guard) Check(ctx context.Context, consultantID snowflake.ID, feePerHourInYen int64) (Decision, error) {
	now := g.clock.Now()

	pending, err := g.repo.ListPending(ctx, g.db, consultantID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("list pending rewards: %w", err)
	}
	from, to := FiscalYear(now, g.rules.FiscalYearStartMonth, g.rules.Location())
	settled, err := g.repo.ListSettled(ctx, g.db, consultantID, from, to)
	if err != nil {
		return Decision{}, fmt.Errorf("list settled rewards: %w", err)
	}

	decision := Decision{
		Expected: sum(pending),
		Realized: sum(settled),
		Max:      g.rules.MaxAnnualRewardsInYen,
	}
	decision.Projected = feePerHourInYen + decision.Expected + decision.Realized
	decision.Allowed = decision.Projected <= decision.Max

	if !decision.Allowed {
		g.log.Info("rewards.cap.exceeded",
			zap.Int64("consultant_id", consultantID.Int64()),
			zap.Int64("projected", decision.Projected),
			zap.Int64("max", decision.Max),
		)
	}
	return decision, nil
}

func sum(rows []FeeRow) int64 {
	var total int64
	for _, row := range rows {
		total += Reward(row.FeePerHourInYen, row.PlatformFeeRateInPercentage)
	}
	return total
}
