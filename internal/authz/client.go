package authz

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxPayloadBytes = 1 << 20

// Client asks the external whitelist service whether an account is
// authorized. The call budget bounds the whole remote hop; on exhaustion
// the call fails like any other transport error.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func NewClient(baseURL string, budget time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: budget},
	}
}

// Call returns the raw response payload. Decoding is left to the
// continuation so an undecodable payload can be treated as a denial
// rather than silently assumed authorized.
func (c *Client) Call(ctx context.Context, accountID string) ([]byte, error) {
	u := fmt.Sprintf("%s/is_whitelisted?account_id=%s", c.baseURL, url.QueryEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build whitelist request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call whitelist: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read whitelist response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whitelist returned status %d", resp.StatusCode)
	}
	return body, nil
}
