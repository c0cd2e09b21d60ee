// Package extractor wraps the external text-extraction service that turns
// raw email text into a structured quote request.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrExtraction marks failures where the service understood the request but
// could not derive a quote from the text. These are not transport errors.
var ErrExtraction = errors.New("extraction failed")

// StructuredQuote is the extraction result the pricing backend understands.
type StructuredQuote struct {
	Material   string   `json:"material"`
	Quantity   int      `json:"quantity"`
	Dimensions string   `json:"dimensions,omitempty"`
	Operations []string `json:"operations,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Extract(ctx context.Context, text string) (*StructuredQuote, error) {
	reqBody, _ := json.Marshal(map[string]string{"text": text})

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/extract", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("%w: %s", ErrExtraction, errResp.Error)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("extractor: status %d", resp.StatusCode)
	}

	var quote StructuredQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("extractor: decode: %w", err)
	}
	return &quote, nil
}
