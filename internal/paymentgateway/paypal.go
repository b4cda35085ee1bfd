package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/frahmantamala/shop-orders/internal"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
)

const issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

// PayPalClient talks to the PayPal Orders v2 API with an OAuth2 client-credentials token.
type PayPalClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewPayPalClient(cfg internal.PayPalConfig, timeout time.Duration, logger *slog.Logger) *PayPalClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// the token source caches the access token and refreshes it before expiry
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	client := creds.Client(ctx)
	client.Timeout = timeout

	return &PayPalClient{
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

func (c *PayPalClient) Name() string {
	return paymentgatewaytypes.ProviderPayPal
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string      `json:"reference_id"`
		Amount      paypalMoney `json:"amount"`
		Payments    struct {
			Captures []struct {
				ID     string      `json:"id"`
				Status string      `json:"status"`
				Amount paypalMoney `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e paypalError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// Capture captures an approved order. Capturing an order twice is answered with its current state.
func (c *PayPalClient) Capture(ctx context.Context, providerOrderID string) (*paymentgatewaytypes.Confirmation, error) {
	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.baseURL, url.PathEscape(providerOrderID))

	status, body, err := c.do(ctx, http.MethodPost, endpoint, []byte(`{}`))
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return c.confirmation(body)
	case status == http.StatusNotFound:
		return nil, paymentgatewaytypes.ErrUnknownOrder
	case status == http.StatusUnprocessableEntity:
		var perr paypalError
		_ = json.Unmarshal(body, &perr)
		if perr.hasIssue(issueAlreadyCaptured) {
			c.logger.Info("paypal order already captured", "provider_order_id", providerOrderID)
		} else {
			c.logger.Warn("paypal refused capture",
				"provider_order_id", providerOrderID,
				"name", perr.Name,
				"message", perr.Message)
		}
		// the order state tells whether the refusal means "already paid" or "not paid yet"
		return c.Lookup(ctx, providerOrderID)
	default:
		return nil, c.unexpected(status, body)
	}
}

func (c *PayPalClient) Lookup(ctx context.Context, providerOrderID string) (*paymentgatewaytypes.Confirmation, error) {
	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s", c.baseURL, url.PathEscape(providerOrderID))

	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return c.confirmation(body)
	case http.StatusNotFound:
		return nil, paymentgatewaytypes.ErrUnknownOrder
	default:
		return nil, c.unexpected(status, body)
	}
}

func (c *PayPalClient) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("paypal request failed", "error", err, "method", method, "url", endpoint)
		return 0, nil, fmt.Errorf("%w: %v", paymentgatewaytypes.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", paymentgatewaytypes.ErrUnavailable, err)
	}
	return resp.StatusCode, body, nil
}

func (c *PayPalClient) unexpected(status int, body []byte) error {
	c.logger.Error("paypal returned unexpected status", "status", status, "response", string(body))
	return fmt.Errorf("%w: paypal status %d", paymentgatewaytypes.ErrUnavailable, status)
}

func (c *PayPalClient) confirmation(body []byte) (*paymentgatewaytypes.Confirmation, error) {
	var order paypalOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: decode paypal order: %v", paymentgatewaytypes.ErrUnavailable, err)
	}

	conf := &paymentgatewaytypes.Confirmation{
		Provider:        paymentgatewaytypes.ProviderPayPal,
		ProviderOrderID: order.ID,
		RawStatus:       order.Status,
		Status:          paymentgatewaytypes.PaymentStatusPending,
	}

	var captureStatus string
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		money := unit.Amount
		if captures := unit.Payments.Captures; len(captures) > 0 {
			conf.CaptureID = captures[0].ID
			captureStatus = captures[0].Status
			money = captures[0].Amount
		}
		conf.Currency = strings.ToUpper(money.CurrencyCode)
		if money.Value != "" {
			amount, err := decimal.NewFromString(money.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid paypal amount %q", paymentgatewaytypes.ErrUnavailable, money.Value)
			}
			conf.Amount = amount
		}
	}

	switch {
	case order.Status == "COMPLETED" && (captureStatus == "" || captureStatus == "COMPLETED"):
		conf.Status = paymentgatewaytypes.PaymentStatusCompleted
	case order.Status == "VOIDED", captureStatus == "DECLINED", captureStatus == "FAILED":
		conf.Status = paymentgatewaytypes.PaymentStatusFailed
	}
	if captureStatus != "" && captureStatus != order.Status {
		conf.RawStatus = order.Status + "/" + captureStatus
	}

	return conf, nil
}
