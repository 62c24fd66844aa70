// Package postal resolves Japanese postal codes to addresses through an
// external search API and formats postal code input.
package postal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the public postal code search service.
const DefaultBaseURL = "https://zipcloud.ibsnet.co.jp"

// ErrUnavailable reports that the search service answered with an error
// status instead of a result.
var ErrUnavailable = errors.New("postal lookup unavailable")

// Address is the part of a lookup result the form uses.
type Address struct {
	Prefecture string `json:"prefecture"`
	City       string `json:"city"`
	Town       string `json:"town"`
}

type searchResponse struct {
	Status  int            `json:"status"`
	Message *string        `json:"message"`
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	Address3 string `json:"address3"`
	Kana1    string `json:"kana1"`
	Kana2    string `json:"kana2"`
	Kana3    string `json:"kana3"`
	Prefcode string `json:"prefcode"`
	Zipcode  string `json:"zipcode"`
}

// Client calls the postal code search API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client. A zero timeout means requests run until the
// caller's context ends.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// Lookup returns the first address registered for zipcode, or nil when the
// service knows none.
func (c *Client) Lookup(ctx context.Context, zipcode string) (*Address, error) {
	u := c.baseURL + "/api/search?zipcode=" + url.QueryEscape(digits(zipcode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postal lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("postal lookup: decoding response: %w", err)
	}
	if body.Status != 0 && body.Status != http.StatusOK {
		msg := ""
		if body.Message != nil {
			msg = *body.Message
		}
		return nil, fmt.Errorf("%w: service status %d %s", ErrUnavailable, body.Status, msg)
	}
	if len(body.Results) == 0 {
		return nil, nil
	}
	first := body.Results[0]
	return &Address{
		Prefecture: first.Address1,
		City:       first.Address2,
		Town:       first.Address3,
	}, nil
}
