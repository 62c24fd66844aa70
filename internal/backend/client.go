// Package backend is the HTTP client for the estimate service that owns the
// auction, bidder matching and identity verification.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// StatusError is returned when the backend answers with a non-2xx status on
// an endpoint where the status is authoritative.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API Error: %d %s", e.StatusCode, e.Status)
}

// ErrMalformedResponse wraps bodies that are not the expected JSON.
var ErrMalformedResponse = errors.New("backend: malformed response")

// ID accepts both string and numeric identifiers from the backend.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// EstimateResponse is the reply to POST /api/estimate.
type EstimateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Estimate struct {
			ID ID `json:"id"`
		} `json:"estimate"`
	} `json:"data"`
}

// VerifyEmailResponse is the reply to GET /api/verification/verify-email.
type VerifyEmailResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	EstimateID      ID     `json:"estimate_id"`
	AlreadyVerified bool   `json:"already_verified"`
}

// ActionResponse is the reply to the resend endpoints.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SMSStatus describes the phone verification state of an estimate.
type SMSStatus struct {
	PhoneVerified bool    `json:"phone_verified"`
	SMSSent       bool    `json:"sms_sent"`
	SMSMessage    *string `json:"sms_message"`
	SMSExpiresAt  *string `json:"sms_expires_at"`
}

// SMSStatusResponse is the reply to GET /api/verification/sms-status.
type SMSStatusResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    SMSStatus `json:"data"`
}

// VerifySMSResponse is the reply to POST /api/verification/verify-sms.
type VerifySMSResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirect_url"`
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for baseURL. A zero timeout leaves requests
// bounded only by the caller's context.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SubmitEstimate posts the processed form payload. A non-2xx status is an
// error; the caller decides what a non-success body means.
func (c *Client) SubmitEstimate(ctx context.Context, payload any) (EstimateResponse, error) {
	var out EstimateResponse
	status, err := c.do(ctx, http.MethodPost, "/api/estimate", payload, &out)
	if err != nil {
		return out, err
	}
	if status < 200 || status > 299 {
		return out, &StatusError{StatusCode: status, Status: http.StatusText(status)}
	}
	return out, nil
}

// VerifyEmail exchanges an email link token.
func (c *Client) VerifyEmail(ctx context.Context, token string) (VerifyEmailResponse, error) {
	var out VerifyEmailResponse
	_, err := c.do(ctx, http.MethodGet, "/api/verification/verify-email?token="+url.QueryEscape(token), nil, &out)
	return out, err
}

// ResendEmail asks the backend to send the verification mail again.
func (c *Client) ResendEmail(ctx context.Context, estimateID string) (ActionResponse, error) {
	var out ActionResponse
	_, err := c.do(ctx, http.MethodPost, "/api/verification/resend-email",
		map[string]string{"estimate_id": estimateID}, &out)
	return out, err
}

// SMSStatus fetches the phone verification state.
func (c *Client) SMSStatus(ctx context.Context, estimateID string) (SMSStatusResponse, error) {
	var out SMSStatusResponse
	_, err := c.do(ctx, http.MethodGet, "/api/verification/sms-status?estimate_id="+url.QueryEscape(estimateID), nil, &out)
	return out, err
}

// VerifySMS submits a six digit code.
func (c *Client) VerifySMS(ctx context.Context, code string) (VerifySMSResponse, error) {
	var out VerifySMSResponse
	_, err := c.do(ctx, http.MethodPost, "/api/verification/verify-sms",
		map[string]string{"code": code}, &out)
	return out, err
}

// ResendSMS asks the backend to send a new code.
func (c *Client) ResendSMS(ctx context.Context, estimateID string) (ActionResponse, error) {
	var out ActionResponse
	_, err := c.do(ctx, http.MethodPost, "/api/verification/resend-sms",
		map[string]string{"estimate_id": estimateID}, &out)
	return out, err
}

// do performs one JSON round trip and returns the HTTP status. The body is
// decoded whatever the status, since the verification endpoints report
// failures in the payload.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
		}
		return resp.StatusCode, fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, method, path, err)
	}
	return resp.StatusCode, nil
}
