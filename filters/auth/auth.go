// Package auth injects credentials into outgoing requests.
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lsm/httpfilter/filters"
	"github.com/lsm/httpfilter/httpclient"
)

// Credential types.
const (
	TypeBearer = "Bearer"
	TypeAPIKey = "APIKey"
	TypeBasic  = "Basic"
)

// Credentials holds authentication credentials to inject into requests.
type Credentials struct {
	Type    string            // "Bearer", "APIKey", "Basic"
	Token   string            // token value
	Headers map[string]string // headers to inject
}

// NewCredentials builds the headers for a token of the given type. APIKey
// tokens go into header (default "Authorization").
func NewCredentials(typ, token, header string) *Credentials {
	creds := &Credentials{Type: typ, Token: token, Headers: make(map[string]string)}
	switch typ {
	case TypeBearer:
		creds.Headers["Authorization"] = "Bearer " + token
	case TypeAPIKey:
		if header == "" {
			header = "Authorization"
		}
		creds.Headers[header] = token
	case TypeBasic:
		creds.Headers["Authorization"] = "Basic " + token
	}
	return creds
}

// Provider retrieves credentials for a given target. A nil result with a nil
// error means the target needs no credentials.
type Provider interface {
	GetCredentials(ctx context.Context, target string) (*Credentials, error)
}

// NoopProvider always returns nil credentials (no auth).
type NoopProvider struct{}

func (n *NoopProvider) GetCredentials(_ context.Context, _ string) (*Credentials, error) {
	return nil, nil
}

// Providers consults each provider in order and returns the first
// credentials found.
type Providers []Provider

func (ps Providers) GetCredentials(ctx context.Context, target string) (*Credentials, error) {
	for _, p := range ps {
		creds, err := p.GetCredentials(ctx, target)
		if err != nil || creds != nil {
			return creds, err
		}
	}
	return nil, nil
}

// Filter sets the credential headers of filters.Target(req) on every
// request. Existing headers of the same name are overwritten. A provider
// failure rejects the call with status 0 without reaching the network.
type Filter struct {
	provider Provider
	logger   *slog.Logger
}

// New creates an auth filter. A nil logger discards output.
func New(provider Provider, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Filter{provider: provider, logger: logger}
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	target := filters.Target(req)
	creds, err := f.provider.GetCredentials(ctx, target)
	if err != nil {
		f.logger.Error("auth error", "target", target, "error", err)
		resp := httpclient.NewResponse(req, 0, "", nil, httpclient.Absent)
		return nil, httpclient.Reject(resp, fmt.Errorf("auth: %w", err))
	}
	if creds != nil {
		for name, value := range creds.Headers {
			req.AddHeader(name, value)
		}
	}
	return next.Advance(ctx, req)
}
