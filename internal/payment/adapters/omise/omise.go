package omise

import (
	"context"
	"errors"
	"fmt"
	"strings"

	omisego "github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/smallbiznis/consultly/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "omise"
}

func (f *Factory) NewGateway(cfg domain.AdapterConfig) (domain.Gateway, error) {
	pub := strings.TrimSpace(cfg.PublicKey)
	sec := strings.TrimSpace(cfg.SecretKey)
	if pub == "" || sec == "" {
		return nil, domain.ErrInvalidConfig
	}
	client, err := omisego.NewClient(pub, sec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return &Gateway{client: client}, nil
}

// Gateway authorizes through Omise with capture disabled.
type Gateway struct {
	client *omisego.Client
}

func (g *Gateway) Provider() string {
	return "omise"
}

func (g *Gateway) Authorize(ctx context.Context, req domain.AuthorizeRequest) (string, error) {
	if req.AmountInYen <= 0 || strings.TrimSpace(req.CardToken) == "" {
		return "", domain.ErrInvalidRequest
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "jpy"
	}
	metadata := make(map[string]interface{}, len(req.Metadata))
	for key, value := range req.Metadata {
		metadata[key] = value
	}

	ch := &omisego.Charge{}
	op := &operations.CreateCharge{
		Amount:      req.AmountInYen,
		Currency:    currency,
		Card:        req.CardToken,
		DontCapture: true,
		Metadata:    metadata,
	}
	if err := g.do(ctx, func() error { return g.client.Do(ch, op) }); err != nil {
		return "", err
	}
	if ch.FailureCode != nil && *ch.FailureCode != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrDeclined, *ch.FailureCode)
	}
	return ch.ID, nil
}

func (g *Gateway) Capture(ctx context.Context, chargeID string) error {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return domain.ErrInvalidRequest
	}
	ch := &omisego.Charge{}
	err := g.do(ctx, func() error { return g.client.Do(ch, &operations.CaptureCharge{ChargeID: chargeID}) })
	var omiseErr *omisego.Error
	if errors.As(err, &omiseErr) && omiseErr.Code == "failed_capture" && strings.Contains(omiseErr.Message, "already") {
		return domain.ErrAlreadyCaptured
	}
	return err
}

// do runs the blocking SDK call and gives up when ctx ends first.
func (g *Gateway) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- call()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
