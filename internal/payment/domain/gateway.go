//go:generate mockgen -source=gateway.go -destination=../mock/gateway_mock.go -package=mock

package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Gateway authorizes card charges without capturing them and captures them
// once the consultation has taken place.
type Gateway interface {
	Provider() string
	// Authorize places a hold and returns the provider charge id.
	Authorize(ctx context.Context, req AuthorizeRequest) (string, error)
	// Capture settles a held charge. Capturing twice returns ErrAlreadyCaptured.
	Capture(ctx context.Context, chargeID string) error
}

type AuthorizeRequest struct {
	AmountInYen int64
	Currency    string
	CardToken   string
	ExpiryDays  int
	Metadata    map[string]string
}

type AdapterConfig struct {
	PublicKey  string
	SecretKey  string
	Tenant     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type AdapterFactory interface {
	Provider() string
	NewGateway(cfg AdapterConfig) (Gateway, error)
}

var (
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrAlreadyCaptured  = errors.New("already_captured")
	ErrDeclined         = errors.New("charge_declined")
	ErrInvalidRequest   = errors.New("invalid_charge_request")
	ErrRateLimited      = errors.New("gateway_rate_limited")
)
