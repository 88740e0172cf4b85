// Package secrets fetches runtime credentials from HashiCorp Vault's
// KV v2 secrets engine over its HTTP API. The service reads secrets once
// at startup; nothing in this package caches or persists them.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// maxResponseSize caps the Vault response body at 1 MB.
const maxResponseSize = 1 << 20

// HTTPClient abstracts the HTTP client, allowing tests to supply custom
// transports. The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the Vault connection settings.
type Config struct {
	// Addr is the Vault server base URL, e.g. "https://vault.internal:8200".
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`

	// Token authenticates the request via the X-Vault-Token header.
	Token string `json:"-" yaml:"-" env:"TOKEN"`

	// Mount is the KV v2 mount point, e.g. "secret".
	Mount string `json:"mount" yaml:"mount" env:"MOUNT" envDefault:"secret"`
}

// Client reads secrets from a Vault KV v2 mount.
type Client struct {
	config Config
	client HTTPClient
}

// NewClient creates a Vault client. If httpClient is nil, a default
// client with a 5-second timeout is used.
func NewClient(cfg Config, httpClient HTTPClient) (*Client, error) {
	if cfg.Addr == "" {
		return nil, apierr.New(apierr.CodeValidation, "secrets: vault address must not be empty")
	}
	if cfg.Token == "" {
		return nil, apierr.New(apierr.CodeValidation, "secrets: vault token must not be empty")
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{config: cfg, client: httpClient}, nil
}

// kvResponse is the KV v2 read envelope: the secret's key-value pairs sit
// under data.data.
type kvResponse struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

// Fetch reads the secret at the given path and returns its key-value
// pairs. A missing path is a [apierr.CodeNotFound] error; transport and
// server failures map to [apierr.CodeUnavailable].
func (c *Client) Fetch(ctx context.Context, path string) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimRight(c.config.Addr, "/"),
		c.config.Mount,
		strings.TrimLeft(path, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal,
			"secrets: failed to create vault request")
	}
	req.Header.Set("X-Vault-Token", c.config.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeUnavailable,
			"secrets: vault request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apierr.Newf(apierr.CodeNotFound,
			"secrets: no secret at path %q", path)
	case resp.StatusCode != http.StatusOK:
		return nil, apierr.Newf(apierr.CodeUnavailable,
			"secrets: vault returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeUnavailable,
			"secrets: failed to read vault response")
	}

	var kv kvResponse
	if err := json.Unmarshal(body, &kv); err != nil {
		return nil, apierr.Wrap(err, apierr.CodeUnavailable,
			"secrets: failed to parse vault response")
	}
	if kv.Data.Data == nil {
		return map[string]string{}, nil
	}
	return kv.Data.Data, nil
}
