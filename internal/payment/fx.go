package payment

import (
	"net/http"
	"time"

	"github.com/smallbiznis/consultly/internal/config"
	"github.com/smallbiznis/consultly/internal/observability/metrics"
	"github.com/smallbiznis/consultly/internal/observability/tracing"
	"github.com/smallbiznis/consultly/internal/payment/adapters"
	"github.com/smallbiznis/consultly/internal/payment/adapters/omise"
	"github.com/smallbiznis/consultly/internal/payment/adapters/payjp"
	"github.com/smallbiznis/consultly/internal/payment/domain"
	"github.com/smallbiznis/consultly/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(payjp.NewFactory(), omise.NewFactory())
	}),
	fx.Provide(NewGateway),
)

type Params struct {
	fx.In

	Config   config.Config
	Registry *adapters.Registry
	Bucket   *ratelimit.TokenBucket `optional:"true"`
	Metrics  *metrics.Metrics       `optional:"true"`
	Log      *zap.Logger
}

// NewGateway builds the configured provider adapter and wraps it with the
// shared rate limit when redis is available.
func NewGateway(p Params) (domain.Gateway, error) {
	timeout := time.Duration(p.Config.Payment.TimeoutSec) * time.Second
	gateway, err := p.Registry.NewGateway(p.Config.Payment.Provider, domain.AdapterConfig{
		PublicKey:  p.Config.Payment.PublicKey,
		SecretKey:  p.Config.Payment.SecretKey,
		Tenant:     p.Config.Payment.Tenant,
		BaseURL:    p.Config.Payment.BaseURL,
		Timeout:    timeout,
		HTTPClient: tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
	})
	if err != nil {
		return nil, err
	}

	var limiter ratelimit.Limiter
	if p.Bucket != nil {
		limiter = p.Bucket
	}
	return ratelimit.NewRateLimitedGateway(gateway, limiter, ratelimit.GatewayLimits{
		Rate:  p.Config.Payment.RateLimit,
		Burst: p.Config.Payment.RateBurst,
	}, p.Metrics, p.Log), nil
}
