package auth

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OIDCConfig describes an OAuth2 client credentials grant for a target.
type OIDCConfig struct {
	Target          string   `yaml:"target"`
	ClientID        string   `yaml:"clientId"`
	ClientSecret    string   `yaml:"clientSecret"`
	ClientSecretEnv string   `yaml:"clientSecretEnv"` // overrides ClientSecret when set
	TokenURL        string   `yaml:"tokenUrl"`
	Scopes          []string `yaml:"scopes"`
}

// OIDCProvider fetches bearer tokens with the client credentials flow
// (Entra ID / Azure AD / any OIDC provider). Tokens are cached and renewed by
// oauth2 shortly before they expire.
type OIDCProvider struct {
	configs map[string]OIDCConfig

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewOIDCProvider creates a provider for configs.
func NewOIDCProvider(configs []OIDCConfig) (*OIDCProvider, error) {
	m := make(map[string]OIDCConfig, len(configs))
	for _, c := range configs {
		if c.TokenURL == "" {
			return nil, fmt.Errorf("oidc %s: token url is required", c.Target)
		}
		m[c.Target] = c
	}
	return &OIDCProvider{configs: m, sources: make(map[string]oauth2.TokenSource)}, nil
}

func (p *OIDCProvider) source(target string, cfg OIDCConfig) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts, ok := p.sources[target]; ok {
		return ts, nil
	}

	secret := cfg.ClientSecret
	if cfg.ClientSecretEnv != "" {
		secret = os.Getenv(cfg.ClientSecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("environment variable %s is not set or empty", cfg.ClientSecretEnv)
		}
	}
	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	ts := ccCfg.TokenSource(context.Background())
	p.sources[target] = ts
	return ts, nil
}

// GetCredentials implements Provider.
func (p *OIDCProvider) GetCredentials(_ context.Context, target string) (*Credentials, error) {
	cfg, ok := p.configs[target]
	if !ok {
		return nil, nil
	}
	ts, err := p.source(target, cfg)
	if err != nil {
		return nil, err
	}
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("acquire OIDC token: %w", err)
	}
	return NewCredentials(TypeBearer, token.AccessToken, ""), nil
}
