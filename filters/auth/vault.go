package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// VaultSecret represents a secret returned by Vault.
type VaultSecret struct {
	Data     map[string]any
	LeaseTTL time.Duration
}

// VaultClient abstracts the Vault API for testability.
type VaultClient interface {
	// ReadSecret reads a secret from the given path.
	ReadSecret(ctx context.Context, path string) (*VaultSecret, error)
}

// VaultConfig maps a target to a Vault secret path.
type VaultConfig struct {
	Target     string `yaml:"target"`
	SecretPath string `yaml:"secretPath"` // Vault path, e.g. "secret/data/myapp/crm-api"
	TokenField string `yaml:"tokenField"` // Field name within the secret data (default: "token")
	Type       string `yaml:"type"`       // "Bearer", "APIKey", "Basic"
	HeaderName string `yaml:"headerName"` // For APIKey type
}

// VaultProvider reads credentials from HashiCorp Vault with caching
// and proactive refresh at 80% of the lease TTL.
type VaultProvider struct {
	client    VaultClient
	configs   map[string]VaultConfig
	cache     *credentialCache
	clock     func() time.Time
	onRefresh func(target string, ok bool)
}

// VaultProviderOption configures the VaultProvider.
type VaultProviderOption func(*VaultProvider)

// WithVaultClock sets the clock function (for testing).
func WithVaultClock(clock func() time.Time) VaultProviderOption {
	return func(p *VaultProvider) { p.clock = clock }
}

// WithVaultRefreshHook is called after every secret read from Vault.
func WithVaultRefreshHook(fn func(target string, ok bool)) VaultProviderOption {
	return func(p *VaultProvider) { p.onRefresh = fn }
}

// NewVaultProvider creates a new Vault-based auth provider.
func NewVaultProvider(client VaultClient, configs []VaultConfig, opts ...VaultProviderOption) (*VaultProvider, error) {
	if client == nil {
		return nil, errors.New("vault client is required")
	}
	m := make(map[string]VaultConfig, len(configs))
	for _, c := range configs {
		if c.TokenField == "" {
			c.TokenField = "token"
		}
		m[c.Target] = c
	}
	p := &VaultProvider{client: client, configs: m, clock: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.cache = newCredentialCache(p.clock)
	return p, nil
}

// GetCredentials retrieves credentials for the target from Vault.
func (p *VaultProvider) GetCredentials(ctx context.Context, target string) (*Credentials, error) {
	cfg, ok := p.configs[target]
	if !ok {
		return nil, nil
	}
	if creds := p.cache.get(target); creds != nil {
		return creds, nil
	}

	creds, ttl, err := p.fetch(ctx, cfg)
	if p.onRefresh != nil {
		p.onRefresh(target, err == nil)
	}
	if err != nil {
		return nil, err
	}
	p.cache.put(target, creds, ttl)
	return creds, nil
}

func (p *VaultProvider) fetch(ctx context.Context, cfg VaultConfig) (*Credentials, time.Duration, error) {
	secret, err := p.client.ReadSecret(ctx, cfg.SecretPath)
	if err != nil {
		return nil, 0, fmt.Errorf("vault read %s: %w", cfg.SecretPath, err)
	}
	tokenVal, ok := secret.Data[cfg.TokenField]
	if !ok {
		return nil, 0, fmt.Errorf("vault secret %s missing field %q", cfg.SecretPath, cfg.TokenField)
	}
	token, ok := tokenVal.(string)
	if !ok {
		return nil, 0, fmt.Errorf("vault secret field %q is not a string", cfg.TokenField)
	}
	return NewCredentials(cfg.Type, token, cfg.HeaderName), secret.LeaseTTL, nil
}
