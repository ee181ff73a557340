package payjp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/consultly/internal/payment/domain"
)

const (
	defaultBaseURL = "https://api.pay.jp"
	defaultTimeout = 12 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "payjp"
}

func (f *Factory) NewGateway(cfg domain.AdapterConfig) (domain.Gateway, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Gateway{
		secretKey: secret,
		tenant:    strings.TrimSpace(cfg.Tenant),
		baseURL:   baseURL,
		client:    client,
	}, nil
}

// Gateway talks to the PAY.JP charges API.
type Gateway struct {
	secretKey string
	tenant    string
	baseURL   string
	client    *http.Client
}

type charge struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Captured bool   `json:"captured"`
	Paid     bool   `json:"paid"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  int    `json:"status"`
	} `json:"error"`
}

func (g *Gateway) Provider() string {
	return "payjp"
}

func (g *Gateway) Authorize(ctx context.Context, req domain.AuthorizeRequest) (string, error) {
	if req.AmountInYen <= 0 || strings.TrimSpace(req.CardToken) == "" {
		return "", domain.ErrInvalidRequest
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "jpy"
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.AmountInYen, 10))
	values.Set("currency", currency)
	values.Set("card", req.CardToken)
	values.Set("capture", "false")
	if req.ExpiryDays > 0 {
		values.Set("expiry_days", strconv.Itoa(req.ExpiryDays))
	}
	if g.tenant != "" {
		values.Set("tenant", g.tenant)
	}
	keys := make([]string, 0, len(req.Metadata))
	for key := range req.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		values.Set("metadata["+key+"]", req.Metadata[key])
	}

	ch, err := g.doRequest(ctx, "/v1/charges", values)
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

func (g *Gateway) Capture(ctx context.Context, chargeID string) error {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return domain.ErrInvalidRequest
	}
	ch, err := g.doRequest(ctx, "/v1/charges/"+url.PathEscape(chargeID)+"/capture", url.Values{})
	if err != nil {
		return err
	}
	if !ch.Captured {
		return errors.New("payjp_capture_not_confirmed")
	}
	return nil
}

func (g *Gateway) doRequest(ctx context.Context, path string, values url.Values) (charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return charge{}, err
	}
	req.SetBasicAuth(g.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return charge{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return charge{}, decodeError(resp)
	}

	var ch charge
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return charge{}, err
	}
	if ch.ID == "" {
		return charge{}, errors.New("payjp_response_invalid")
	}
	return ch, nil
}

func decodeError(resp *http.Response) error {
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("payjp_request_failed: status %d", resp.StatusCode)
	}
	switch payload.Error.Code {
	case "already_captured":
		return domain.ErrAlreadyCaptured
	case "card_declined", "expired_card", "invalid_card", "card_flagged":
		return fmt.Errorf("%w: %s", domain.ErrDeclined, payload.Error.Code)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	message := strings.TrimSpace(payload.Error.Message)
	if message == "" {
		message = "payjp_request_failed"
	}
	return fmt.Errorf("payjp %s: %s", payload.Error.Code, message)
}
