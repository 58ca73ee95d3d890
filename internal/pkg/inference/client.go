package inference

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
	"strings"
	"syscall"
	"time"
)

const defaultTimeout = 90 * time.Second

var (
	ErrTimeout     = errors.New("inference timeout")
	ErrUnavailable = errors.New("inference provider unavailable")
	ErrRejected    = errors.New("inference provider rejected the request")
	ErrEmptyResult = errors.New("inference provider returned no image")
)

// Request is the try-on payload. Images are http(s) URLs or data URIs.
type Request struct {
	PersonImage  string `json:"person_image"`
	GarmentImage string `json:"garment_image"`
	Category     string `json:"category,omitempty"`
}

// Result holds the generated image location.
type Result struct {
	ResultURL string `json:"result_url"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client represents the try-on provider HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	ua      string
	http    *http.Client
}

// NewClient creates a new provider client with a hard per-call timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, ua string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		ua:      ua,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// TryOn submits one generation and waits for the result URL.
func (c *Client) TryOn(ctx context.Context, in Request) (*Result, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("%w: client is nil", ErrUnavailable)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: base_url is empty", ErrUnavailable)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("inference request error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/try-on", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("inference request error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("inference read error: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status=%d error=%s", ErrRejected, resp.StatusCode, eb.Error)
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("inference decode error: %w", err)
	}
	if strings.TrimSpace(out.ResultURL) == "" {
		return nil, ErrEmptyResult
	}
	return &out, nil
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: network error: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("inference request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
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

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	return false
}
