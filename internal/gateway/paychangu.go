package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/learnpay/backend/internal/config"
)

// Payment statuses reported by the provider.
const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailure = "failure"
)

// ErrUnavailable covers transport failures: timeouts, connection
// errors, unparseable responses. The charge may or may not have been
// accepted; callers must treat the operation as retryable.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Error is a definitive rejection from the provider (non-2xx with a
// provider message). Unlike ErrUnavailable, the charge is known to
// have not been accepted.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment gateway rejected request (%d): %s", e.StatusCode, e.Message)
}

// InitiateResult is the fixed shape of an initialize response. The
// provider's raw payload never crosses this boundary.
type InitiateResult struct {
	Status string `json:"status"` // success | failure
	RefID  string `json:"ref_id"` // provider payment reference
}

// VerifyResult is the fixed shape of a status query response.
type VerifyResult struct {
	Status string `json:"status"` // success | pending | failure
}

// Client is the mobile-money provider boundary. Implementations must
// keep VerifyPayment a pure, repeatable read.
type Client interface {
	InitiatePayment(ctx context.Context, mobile string, amountCents int64, chargeID string) (*InitiateResult, error)
	VerifyPayment(ctx context.Context, ref string) (*VerifyResult, error)
}

// PaychanguClient talks to the Paychangu mobile-money API.
type PaychanguClient struct {
	cfg        *config.GatewayConfig
	httpClient *http.Client
}

func NewPaychanguClient(cfg *config.GatewayConfig) *PaychanguClient {
	return &PaychanguClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type initiateRequest struct {
	OperatorRefID string `json:"mobile_money_operator_ref_id"`
	Mobile        string `json:"mobile"`
	Amount        string `json:"amount"`
	ChargeID      string `json:"charge_id"`
}

type providerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		RefID  string `json:"ref_id"`
		Status string `json:"status"`
	} `json:"data"`
}

// InitiatePayment asks the provider to charge the given mobile number.
// chargeID is the caller-supplied idempotency key; repeating the call
// with the same id must not create a second charge.
func (c *PaychanguClient) InitiatePayment(ctx context.Context, mobile string, amountCents int64, chargeID string) (*InitiateResult, error) {
	body, err := json.Marshal(initiateRequest{
		OperatorRefID: c.cfg.OperatorRefID,
		Mobile:        mobile,
		Amount:        formatAmount(amountCents),
		ChargeID:      chargeID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/mobile-money/payments/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[GATEWAY] Initialize request failed for charge %s: %v", chargeID, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := decodeProviderResponse(resp)
	if err != nil {
		return nil, err
	}

	if payload.Status != StatusSuccess {
		return &InitiateResult{Status: StatusFailure}, &Error{
			StatusCode: resp.StatusCode,
			Message:    payload.Message,
		}
	}

	log.Printf("[GATEWAY] Payment initialized: charge=%s ref=%s", chargeID, payload.Data.RefID)
	return &InitiateResult{Status: StatusSuccess, RefID: payload.Data.RefID}, nil
}

// VerifyPayment queries the current settlement state of a payment
// reference. Idempotent read; safe to call repeatedly.
func (c *PaychanguClient) VerifyPayment(ctx context.Context, ref string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/mobile-money/payments/"+ref+"/status", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[GATEWAY] Status request failed for ref %s: %v", ref, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := decodeProviderResponse(resp)
	if err != nil {
		return nil, err
	}

	switch payload.Data.Status {
	case StatusSuccess, StatusPending, StatusFailure:
		return &VerifyResult{Status: payload.Data.Status}, nil
	}

	// Some provider responses carry the state at the top level only.
	switch payload.Status {
	case StatusSuccess, StatusPending, StatusFailure:
		return &VerifyResult{Status: payload.Status}, nil
	}

	return nil, &Error{StatusCode: resp.StatusCode, Message: payload.Message}
}

func (c *PaychanguClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
}

func decodeProviderResponse(resp *http.Response) (*providerResponse, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	var payload providerResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		// An unparseable body on a 2xx means the charge may have been
		// accepted; only a non-2xx with garbage is a definitive reject.
		if resp.StatusCode < 300 || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: unparseable response (status %d)", ErrUnavailable, resp.StatusCode)
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	return &payload, nil
}

// formatAmount renders cents as a major-unit decimal string, which is
// what the provider API expects.
func formatAmount(cents int64) string {
	if cents%100 == 0 {
		return strconv.FormatInt(cents/100, 10)
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
