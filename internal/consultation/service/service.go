package service

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/consultly/internal/account/domain"
	"github.com/smallbiznis/consultly/internal/clock"
	"github.com/smallbiznis/consultly/internal/config"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
	"github.com/smallbiznis/consultly/internal/notification"
	"github.com/smallbiznis/consultly/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/consultly/internal/payment/domain"
	"github.com/smallbiznis/consultly/internal/rewards"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_consultation_service_config")

var tracer = otel.Tracer("consultly/consultation")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Rules    config.BusinessRules
	GenID    *snowflake.Node
	Repo     domain.Repository
	Accounts accountdomain.Service
	Guard    *rewards.Guard
	Gateway  paymentdomain.Gateway
	Notifier *notification.Notifier
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	rules    config.BusinessRules
	genID    *snowflake.Node
	repo     domain.Repository
	accounts accountdomain.Service
	guard    *rewards.Guard
	gateway  paymentdomain.Gateway
	notifier *notification.Notifier
	metrics  *metrics.Metrics
}

func New(p Params) (domain.Service, error) {
	if p.DB == nil || p.Clock == nil || p.GenID == nil || p.Repo == nil || p.Accounts == nil {
		return nil, ErrInvalidConfig
	}
	if p.Guard == nil || p.Gateway == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:       p.DB,
		log:      log.Named("consultation.service"),
		clock:    p.Clock,
		rules:    p.Rules,
		genID:    p.GenID,
		repo:     p.Repo,
		accounts: p.Accounts,
		guard:    p.Guard,
		gateway:  p.Gateway,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}, nil
}

// outcome is the metric label of a service result.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.Code(err)
}
