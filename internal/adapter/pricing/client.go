// Package pricing wraps the pricing backend: authenticate for a session
// token, then request a price for a structured quote.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/extractor"
)

type PriceResult struct {
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	ValidDays int     `json:"valid_days"`
	Reference string  `json:"reference"`
}

type Client struct {
	baseURL  string
	user     string
	password string
	client   *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(baseURL, user, password string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

// Authenticate logs in and caches the session token until expiry.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{"user": c.user, "password": c.password})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pricing auth: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("pricing auth: status %d", resp.StatusCode)
	}

	var result struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("pricing auth: decode: %w", err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("pricing auth: empty token")
	}

	c.token = result.Token
	c.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn-60) * time.Second)
	return c.token, nil
}

// Quote prices a structured quote request.
func (c *Client) Quote(ctx context.Context, token string, q *extractor.StructuredQuote) (*PriceResult, error) {
	body, _ := json.Marshal(q)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/quotes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("pricing quote: status %d", resp.StatusCode)
	}

	var result PriceResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pricing quote: decode: %w", err)
	}
	return &result, nil
}
