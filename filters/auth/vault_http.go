package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lsm/httpfilter/httpclient"
)

// HTTPVaultClient reads secrets over Vault's HTTP API through an
// httpclient.Client, so the client's own filters (retry, tracing, logging)
// apply to Vault calls too. KV v2 responses are unwrapped.
type HTTPVaultClient struct {
	Address   string // e.g. "https://vault.internal:8200"
	Token     string
	Namespace string
	Client    *httpclient.Client
}

type vaultResponse struct {
	LeaseDuration int            `json:"lease_duration"`
	Data          map[string]any `json:"data"`
	Errors        []string       `json:"errors"`
}

// ReadSecret implements VaultClient.
func (c *HTTPVaultClient) ReadSecret(ctx context.Context, path string) (*VaultSecret, error) {
	if c.Address == "" {
		return nil, errors.New("vault address is required")
	}
	client := c.Client
	if client == nil {
		client = httpclient.New()
	}

	req := httpclient.NewRequest(strings.TrimRight(c.Address, "/") + "/v1/" + strings.TrimLeft(path, "/"))
	req.AddHeader("X-Vault-Token", c.Token)
	if c.Namespace != "" {
		req.AddHeader("X-Vault-Namespace", c.Namespace)
	}

	body, err := httpclient.Call[vaultResponse](ctx, client, req)
	if err != nil {
		if resp, ok := httpclient.AsResponse(err); ok {
			if verr, derr := httpclient.Decode[vaultResponse](resp.Body); derr == nil && len(verr.Errors) > 0 {
				return nil, fmt.Errorf("vault status %d: %s", resp.Status, strings.Join(verr.Errors, "; "))
			}
		}
		return nil, err
	}
	if body.Data == nil {
		return nil, fmt.Errorf("vault secret %s has no data", path)
	}

	data := body.Data
	if nested, ok := data["data"].(map[string]any); ok {
		if _, hasMeta := data["metadata"]; hasMeta {
			data = nested
		}
	}
	return &VaultSecret{
		Data:     data,
		LeaseTTL: time.Duration(body.LeaseDuration) * time.Second,
	}, nil
}
