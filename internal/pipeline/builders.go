package pipeline

import (
	"fmt"
	"os"

	"github.com/lsm/httpfilter/filters/auth"
	"github.com/lsm/httpfilter/filters/circuitbreaker"
	"github.com/lsm/httpfilter/filters/cloudevent"
	"github.com/lsm/httpfilter/filters/correlation"
	"github.com/lsm/httpfilter/filters/header"
	"github.com/lsm/httpfilter/filters/logging"
	"github.com/lsm/httpfilter/filters/metrics"
	"github.com/lsm/httpfilter/filters/ratelimit"
	"github.com/lsm/httpfilter/filters/retry"
	"github.com/lsm/httpfilter/filters/shape"
	"github.com/lsm/httpfilter/filters/tracing"
	"github.com/lsm/httpfilter/filters/transform"
	"github.com/lsm/httpfilter/httpclient"
	"github.com/lsm/httpfilter/internal/config"
)

type builder func(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error)

var builders = map[string]builder{
	"auth":           buildAuth,
	"circuitbreaker": buildCircuitBreaker,
	"cloudevent":     buildCloudEvent,
	"correlation":    buildCorrelation,
	"header":         buildHeader,
	"logging":        buildLogging,
	"metrics":        buildMetrics,
	"patch":          buildPatch,
	"ratelimit":      buildRateLimit,
	"retry":          buildRetry,
	"select":         buildSelect,
	"tracing":        buildTracing,
	"transform":      buildTransform,
}

// Types returns the known filter types.
func Types() []string {
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	return types
}

type authConfig struct {
	Secrets []auth.SecretConfig `yaml:"secrets"`
	Vault   *struct {
		Address   string             `yaml:"address"`
		Token     string             `yaml:"token"`
		TokenEnv  string             `yaml:"tokenEnv"`
		Namespace string             `yaml:"namespace"`
		Secrets   []auth.VaultConfig `yaml:"secrets"`
	} `yaml:"vault"`
	OIDC  []auth.OIDCConfig  `yaml:"oidc"`
	Azure []auth.AzureConfig `yaml:"azure"`
}

// buildAuth consults providers in the order secrets, vault, oidc, azure.
func buildAuth(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg authConfig
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}

	var providers auth.Providers
	if len(cfg.Secrets) > 0 {
		providers = append(providers, auth.NewSecretProvider(cfg.Secrets))
	}
	if v := cfg.Vault; v != nil {
		token := v.Token
		if v.TokenEnv != "" {
			token = os.Getenv(v.TokenEnv)
		}
		client := &auth.HTTPVaultClient{
			Address:   v.Address,
			Token:     token,
			Namespace: v.Namespace,
			Client:    httpclient.New(httpclient.WithTransport(p.transport)),
		}
		vp, err := auth.NewVaultProvider(client, v.Secrets, auth.WithVaultRefreshHook(p.metrics.RecordAuthRefresh))
		if err != nil {
			return nil, err
		}
		providers = append(providers, vp)
	}
	if len(cfg.OIDC) > 0 {
		op, err := auth.NewOIDCProvider(cfg.OIDC)
		if err != nil {
			return nil, err
		}
		providers = append(providers, op)
	}
	if len(cfg.Azure) > 0 {
		ap, err := auth.NewAzureProvider(cfg.Azure)
		if err != nil {
			return nil, err
		}
		providers = append(providers, ap)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("auth: no credential source configured")
	}
	return auth.New(providers, p.logger), nil
}

func buildCircuitBreaker(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var raw struct {
		FailureThreshold int             `yaml:"failureThreshold"`
		SuccessThreshold int             `yaml:"successThreshold"`
		ResetTimeout     config.Duration `yaml:"resetTimeout"`
		HalfOpenProbes   *int            `yaml:"halfOpenProbes"`
	}
	if err := fd.Decode(&raw); err != nil {
		return nil, err
	}
	cfg := circuitbreaker.DefaultConfig()
	if raw.FailureThreshold > 0 {
		cfg.FailureThreshold = raw.FailureThreshold
	}
	if raw.SuccessThreshold > 0 {
		cfg.SuccessThreshold = raw.SuccessThreshold
	}
	if raw.ResetTimeout > 0 {
		cfg.ResetTimeout = raw.ResetTimeout.Std()
	}
	if raw.HalfOpenProbes != nil {
		cfg.HalfOpenProbes = *raw.HalfOpenProbes
	}
	return circuitbreaker.New(cfg,
		circuitbreaker.WithLogger(p.logger),
		circuitbreaker.WithMetrics(p.metrics),
	), nil
}

func buildCloudEvent(_ *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg cloudevent.Config
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case "", cloudevent.Structured, cloudevent.Binary:
	default:
		return nil, fmt.Errorf("cloudevent: unknown mode %q", cfg.Mode)
	}
	return cloudevent.New(cfg), nil
}

func buildCorrelation(_ *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg struct {
		Header string `yaml:"header"`
	}
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}
	return correlation.New(cfg.Header), nil
}

func buildHeader(_ *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg struct {
		Headers  map[string]string `yaml:"headers"`
		Override bool              `yaml:"override"`
	}
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Headers) == 0 {
		return nil, fmt.Errorf("header: no headers configured")
	}
	return header.New(cfg.Headers, cfg.Override), nil
}

func buildLogging(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	if err := fd.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	return logging.New(p.logger), nil
}

func buildMetrics(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	if err := fd.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	return metrics.New(p.metrics), nil
}

func buildPatch(_ *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg struct {
		Set    map[string]any `yaml:"set"`
		Delete []string       `yaml:"delete"`
	}
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}
	return shape.Patch(cfg.Set, cfg.Delete...), nil
}

func buildRateLimit(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg struct {
		Mode    ratelimit.Mode `yaml:"mode"`
		Targets []struct {
			Target            string  `yaml:"target"`
			RequestsPerSecond float64 `yaml:"requestsPerSecond"`
			Burst             int     `yaml:"burst"`
		} `yaml:"targets"`
	}
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ratelimit.Reject
	case ratelimit.Reject, ratelimit.Wait:
	default:
		return nil, fmt.Errorf("ratelimit: unknown mode %q", cfg.Mode)
	}
	limiter := ratelimit.NewLimiter()
	for _, t := range cfg.Targets {
		if t.Target == "" {
			return nil, fmt.Errorf("ratelimit: target name is required")
		}
		limiter.Set(t.Target, t.RequestsPerSecond, t.Burst)
	}
	return ratelimit.New(limiter, ratelimit.WithMode(cfg.Mode), ratelimit.WithMetrics(p.metrics)), nil
}

func buildRetry(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var raw struct {
		MaxAttempts     int             `yaml:"maxAttempts"`
		InitialInterval config.Duration `yaml:"initialInterval"`
		MaxInterval     config.Duration `yaml:"maxInterval"`
		Jitter          *float64        `yaml:"jitter"`
	}
	if err := fd.Decode(&raw); err != nil {
		return nil, err
	}
	cfg := retry.DefaultConfig()
	if raw.MaxAttempts > 0 {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if raw.InitialInterval > 0 {
		cfg.InitialInterval = raw.InitialInterval.Std()
	}
	if raw.MaxInterval > 0 {
		cfg.MaxInterval = raw.MaxInterval.Std()
	}
	if raw.Jitter != nil {
		cfg.Jitter = *raw.Jitter
	}
	return retry.New(cfg, retry.WithLogger(p.logger), retry.WithMetrics(p.metrics)), nil
}

func buildSelect(_ *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg struct {
		Path string `yaml:"path"`
	}
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}
	return shape.Select(cfg.Path)
}

func buildTracing(p *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	if err := fd.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	return tracing.New(tracing.WithTracer(p.tracer)), nil
}

func buildTransform(_ *Pipeline, fd config.FilterDefinition) (httpclient.Filter, error) {
	var cfg struct {
		Phase          transform.Phase `yaml:"phase"`
		Expr           string          `yaml:"expr"`
		Timeout        config.Duration `yaml:"timeout"`
		MaxOutputBytes int             `yaml:"maxOutputBytes"`
		CostLimit      uint64          `yaml:"costLimit"`
	}
	if err := fd.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Phase == "" {
		cfg.Phase = transform.Response
	}
	var opts []transform.Option
	if cfg.Timeout > 0 {
		opts = append(opts, transform.WithTimeout(cfg.Timeout.Std()))
	}
	if cfg.MaxOutputBytes > 0 {
		opts = append(opts, transform.WithMaxOutputBytes(cfg.MaxOutputBytes))
	}
	if cfg.CostLimit > 0 {
		opts = append(opts, transform.WithCostLimit(cfg.CostLimit))
	}
	return transform.New(cfg.Phase, cfg.Expr, opts...)
}
