package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

var ErrMissingBatchConfig = errors.New("missing_batch_config")

// BatchEnv lists the variables a batch process refuses to start without.
// Values are duplicated into Config by Load; this struct only proves presence.
type BatchEnv struct {
	DBHost     string `envconfig:"DATABASE_HOST" required:"true"`
	DBPort     string `envconfig:"DATABASE_PORT" required:"true"`
	DBName     string `envconfig:"DATABASE_NAME" required:"true"`
	DBUser     string `envconfig:"DATABASE_USER" required:"true"`
	DBPassword string `envconfig:"DATABASE_PASSWORD" required:"true"`

	AdminEmailAddress  string `envconfig:"ADMIN_EMAIL_ADDRESS" required:"true"`
	SystemEmailAddress string `envconfig:"SYSTEM_EMAIL_ADDRESS" required:"true"`

	PaymentSecretKey string `envconfig:"PAYMENT_SECRET_KEY" required:"true"`
}

func LoadBatchEnv() (BatchEnv, error) {
	var env BatchEnv
	if err := envconfig.Process("", &env); err != nil {
		return BatchEnv{}, fmt.Errorf("%w: %v", ErrMissingBatchConfig, err)
	}
	return env, nil
}
