package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
)

const defaultWHMPort = "2087"

// WHMClient talks to the WHM JSON API of the hosting servers. The target
// server host comes from the subscription's hosting metadata, so one client
// serves the whole fleet.
type WHMClient struct {
	Username string
	APIToken string
	Port     string

	HTTPClient *http.Client
}

// NewWHMClientFromEnv builds a client from WHM_API_USERNAME / WHM_API_TOKEN.
// WHM servers commonly run self-signed certificates on :2087; set
// WHM_TLS_INSECURE=1 to accept them.
func NewWHMClientFromEnv() *WHMClient {
	transport := &http.Transport{}
	if env.GetEnv("WHM_TLS_INSECURE", "0") == "1" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &WHMClient{
		Username: env.GetEnv("WHM_API_USERNAME", "root"),
		APIToken: env.GetEnv("WHM_API_TOKEN", ""),
		Port:     env.GetEnv("WHM_PORT", defaultWHMPort),
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// SuspendAccount suspends a cPanel account on the given server.
func (c *WHMClient) SuspendAccount(ctx context.Context, server, user, reason string) error {
	q := url.Values{}
	q.Set("user", user)
	q.Set("reason", reason)
	return c.call(ctx, server, "suspendacct", q)
}

// UnsuspendAccount lifts the suspension of a cPanel account.
func (c *WHMClient) UnsuspendAccount(ctx context.Context, server, user string) error {
	q := url.Values{}
	q.Set("user", user)
	return c.call(ctx, server, "unsuspendacct", q)
}

func (c *WHMClient) call(ctx context.Context, server, function string, q url.Values) error {
	if strings.TrimSpace(c.APIToken) == "" {
		return errors.New("WHM_API_TOKEN is not configured")
	}
	if strings.TrimSpace(server) == "" {
		return errors.New("hosting server is required")
	}

	q.Set("api.version", "1")
	u := fmt.Sprintf("https://%s:%s/json-api/%s?%s", server, c.Port, function, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("whm %s:%s", c.Username, c.APIToken))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whm %s failed: status=%d body=%s", function, resp.StatusCode, string(body))
	}

	var out struct {
		Metadata struct {
			Result int    `json:"result"`
			Reason string `json:"reason"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("whm %s returned unparseable response: %w", function, err)
	}
	if out.Metadata.Result != 1 {
		return fmt.Errorf("whm %s rejected: %s", function, out.Metadata.Reason)
	}
	return nil
}
