package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
)

const defaultTimeout = 15 * time.Second

var (
	ErrChargeNotFound = errors.New("application charge not found")
	ErrUnauthorized   = errors.New("shopify rejected the access token")
	ErrTimeout        = errors.New("shopify request timeout")
	ErrNetwork        = errors.New("shopify network error")
)

// TokenSource returns the offline access token of an installed shop.
type TokenSource interface {
	AccessToken(ctx context.Context, shop string) (string, error)
}

// ApplicationCharge is the Admin REST representation of a one-time charge.
type ApplicationCharge struct {
	ID              int64           `json:"id,omitempty"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Status          string          `json:"status,omitempty"`
	ReturnURL       string          `json:"return_url,omitempty"`
	ConfirmationURL string          `json:"confirmation_url,omitempty"`
	Test            *bool           `json:"test,omitempty"`
}

// IDString returns the charge id as used in callback URLs.
func (c *ApplicationCharge) IDString() string {
	return strconv.FormatInt(c.ID, 10)
}

type chargeEnvelope struct {
	ApplicationCharge ApplicationCharge `json:"application_charge"`
}

// BillingClient talks to the application_charges endpoints of the Admin API.
type BillingClient struct {
	apiVersion string
	tokens     TokenSource
	baseURL    func(shop string) string
	http       *http.Client
}

func NewBillingClient(apiVersion string, tokens TokenSource, timeout time.Duration) *BillingClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &BillingClient{
		apiVersion: apiVersion,
		tokens:     tokens,
		baseURL:    func(shop string) string { return "https://" + shop },
		http:       &http.Client{Timeout: timeout},
	}
}

// WithBaseURL sends every request to base instead of the shop domain.
func (c *BillingClient) WithBaseURL(base string) *BillingClient {
	base = strings.TrimRight(base, "/")
	c.baseURL = func(string) string { return base }
	return c
}

// CreateCharge creates a pending one-time charge and returns it with its
// confirmation URL.
func (c *BillingClient) CreateCharge(ctx context.Context, shop string, charge ApplicationCharge) (*ApplicationCharge, error) {
	body, err := json.Marshal(chargeEnvelope{ApplicationCharge: charge})
	if err != nil {
		return nil, fmt.Errorf("shopify billing request error: %w", err)
	}
	return c.do(ctx, shop, http.MethodPost, "/application_charges.json", body)
}

// GetCharge fetches the current status of a charge.
func (c *BillingClient) GetCharge(ctx context.Context, shop, chargeID string) (*ApplicationCharge, error) {
	return c.do(ctx, shop, http.MethodGet, "/application_charges/"+url.PathEscape(chargeID)+".json", nil)
}

// ActivateCharge activates an accepted charge. API versions from 2021-01 on
// activate automatically and answer with the already active charge.
func (c *BillingClient) ActivateCharge(ctx context.Context, shop, chargeID string) (*ApplicationCharge, error) {
	return c.do(ctx, shop, http.MethodPost, "/application_charges/"+url.PathEscape(chargeID)+"/activate.json", []byte("{}"))
}

func (c *BillingClient) do(ctx context.Context, shop, method, path string, payload []byte) (*ApplicationCharge, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("shopify billing request error: client is nil")
	}

	token, err := c.tokens.AccessToken(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("shopify billing token error: %w", err)
	}

	endpoint := fmt.Sprintf("%s/admin/api/%s%s", c.baseURL(shop), c.apiVersion, path)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("shopify billing request error: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("shopify billing read error: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrChargeNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status=%d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("shopify billing http error: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var env chargeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("shopify billing decode error: %w", err)
	}
	return &env.ApplicationCharge, nil
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return fmt.Errorf("shopify billing request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
