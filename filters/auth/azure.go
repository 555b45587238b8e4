package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// AzureConfig maps a target to the token scope requested for it.
type AzureConfig struct {
	Target string `yaml:"target"`
	Scope  string `yaml:"scope"`  // e.g. "api://my-app/.default"
}

// AzureProvider issues bearer tokens from an Azure credential (Workload
// Identity, Managed Identity, or whatever the default chain resolves).
type AzureProvider struct {
	cred    azcore.TokenCredential
	configs map[string]AzureConfig
	cache   *credentialCache
}

// AzureOption configures an AzureProvider.
type AzureOption func(*azureOptions)

type azureOptions struct {
	cred  azcore.TokenCredential
	clock func() time.Time
}

// WithTokenCredential uses cred instead of the default Azure credential chain.
func WithTokenCredential(cred azcore.TokenCredential) AzureOption {
	return func(o *azureOptions) { o.cred = cred }
}

// WithAzureClock sets the clock function (for testing).
func WithAzureClock(clock func() time.Time) AzureOption {
	return func(o *azureOptions) { o.clock = clock }
}

// NewAzureProvider creates a provider for configs.
func NewAzureProvider(configs []AzureConfig, opts ...AzureOption) (*AzureProvider, error) {
	var o azureOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.cred == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("create azure credential: %w", err)
		}
		o.cred = cred
	}
	m := make(map[string]AzureConfig, len(configs))
	for _, c := range configs {
		m[c.Target] = c
	}
	return &AzureProvider{cred: o.cred, configs: m, cache: newCredentialCache(o.clock)}, nil
}

// GetCredentials implements Provider.
func (p *AzureProvider) GetCredentials(ctx context.Context, target string) (*Credentials, error) {
	cfg, ok := p.configs[target]
	if !ok {
		return nil, nil
	}
	if creds := p.cache.get(target); creds != nil {
		return creds, nil
	}
	token, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{cfg.Scope}})
	if err != nil {
		return nil, fmt.Errorf("acquire azure token: %w", err)
	}
	creds := NewCredentials(TypeBearer, token.Token, "")
	p.cache.put(target, creds, p.cache.untilExpiry(token.ExpiresOn))
	return creds, nil
}
