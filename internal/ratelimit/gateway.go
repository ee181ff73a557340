package ratelimit

import (
	"context"
	"fmt"

	"github.com/smallbiznis/consultly/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/consultly/internal/payment/domain"
	"go.uber.org/zap"
)

// Limiter is satisfied by TokenBucket.
type Limiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

type GatewayLimits struct {
	Rate  float64
	Burst int
}

// RateLimitedGateway throttles outbound gateway calls across every process
// sharing the redis bucket. Limiter errors fail open.
type RateLimitedGateway struct {
	next    paymentdomain.Gateway
	limiter Limiter
	limits  GatewayLimits
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewRateLimitedGateway(next paymentdomain.Gateway, limiter Limiter, limits GatewayLimits, m *metrics.Metrics, log *zap.Logger) paymentdomain.Gateway {
	if limiter == nil || limits.Rate <= 0 || limits.Burst <= 0 {
		return next
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimitedGateway{
		next:    next,
		limiter: limiter,
		limits:  limits,
		metrics: m,
		log:     log.Named("ratelimit.gateway"),
	}
}

func (g *RateLimitedGateway) Provider() string {
	return g.next.Provider()
}

func (g *RateLimitedGateway) Authorize(ctx context.Context, req paymentdomain.AuthorizeRequest) (string, error) {
	if err := g.allow(ctx, "authorize"); err != nil {
		return "", err
	}
	return g.next.Authorize(ctx, req)
}

func (g *RateLimitedGateway) Capture(ctx context.Context, chargeID string) error {
	if err := g.allow(ctx, "capture"); err != nil {
		return err
	}
	return g.next.Capture(ctx, chargeID)
}

func (g *RateLimitedGateway) allow(ctx context.Context, operation string) error {
	key := fmt.Sprintf("consultly:gateway:%s:%s", g.next.Provider(), operation)
	result, err := g.limiter.Allow(ctx, key, g.limits.Rate, g.limits.Burst)
	if err != nil {
		g.log.Warn("ratelimit.check.failed", zap.String("operation", operation), zap.Error(err))
		return nil
	}
	if result.Allowed {
		return nil
	}
	g.metrics.RecordRateLimitDenied(ctx, operation)
	g.log.Warn("ratelimit.denied",
		zap.String("operation", operation),
		zap.Duration("retry_after", result.RetryAfter),
	)
	return paymentdomain.ErrRateLimited
}
