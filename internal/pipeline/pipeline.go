// Package pipeline turns client definitions into installed filters and swaps
// them in place when the definition changes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/httpfilter/filters/metrics"
	"github.com/lsm/httpfilter/gate"
	"github.com/lsm/httpfilter/httpclient"
	"github.com/lsm/httpfilter/internal/config"
)

// FilterName is the name the pipeline is installed under on its client.
const FilterName = "pipeline"

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger handed to the filters that log.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records per filter invocations and enables the metrics type.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer used by tracing filters.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = tracer }
}

// WithTransport sets the transport used by clients the pipeline creates for
// its own needs, such as reading Vault secrets.
func WithTransport(t httpclient.Transport) Option {
	return func(p *Pipeline) { p.transport = t }
}

// OnApply registers fn to be called with the filter names after every
// successful Apply.
func OnApply(fn func(names []string)) Option {
	return func(p *Pipeline) { p.onApply = fn }
}

// Pipeline owns the configured filters of one client. It is installed on the
// client as a single filter delegating to the current filter collection, so a
// reload replaces every filter at once and in-flight calls finish on the
// collection they started with.
type Pipeline struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	transport httpclient.Transport
	onApply   func(names []string)

	current atomic.Pointer[httpclient.FilterCollection]
	reg     *httpclient.Registration

	mu    sync.Mutex
	names []string
}

// New installs an empty pipeline on client.
func New(client *httpclient.Client, opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.Default(), transport: httpclient.Execute}
	for _, opt := range opts {
		opt(p)
	}
	p.current.Store(httpclient.NewFilterCollection())
	p.reg = client.AddFilter(httpclient.FilterFunc(p.doFilter), FilterName, nil)
	return p
}

func (p *Pipeline) doFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	return p.current.Load().DoFilter(ctx, req, next)
}

// Apply builds every filter of def and, only if all of them build, replaces
// the current set. On error the previous filters stay installed.
func (p *Pipeline) Apply(def *config.ClientDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("client %q: %w", def.Name, err)
	}

	collection := httpclient.NewFilterCollection()
	collection.SetLogger(p.logger)
	names := make([]string, 0, len(def.Filters))
	for _, fd := range def.Filters {
		filter, err := p.build(fd)
		if err != nil {
			return fmt.Errorf("client %q: filter %q: %w", def.Name, fd.Name, err)
		}
		cfg, err := p.gate(fd)
		if err != nil {
			return fmt.Errorf("client %q: filter %q: %w", def.Name, fd.Name, err)
		}
		collection.AddFilter(metrics.Instrument(fd.Name, filter, p.metrics), fd.Name, cfg)
		names = append(names, fd.Name)
	}

	p.current.Store(collection)
	p.mu.Lock()
	p.names = names
	p.mu.Unlock()

	p.logger.Info("pipeline applied", "client", def.Name, "filters", names)
	if p.onApply != nil {
		p.onApply(names)
	}
	return nil
}

// Names returns the names of the installed filters in order.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

// Close removes the pipeline from its client.
func (p *Pipeline) Close() {
	p.reg.Remove()
}

func (p *Pipeline) build(fd config.FilterDefinition) (httpclient.Filter, error) {
	builder, ok := builders[fd.Type]
	if !ok {
		return nil, fmt.Errorf("unknown filter type %q", fd.Type)
	}
	return builder(p, fd)
}

// gate combines the when, methods and urlPrefix conditions. A definition
// without any applies to every request.
func (p *Pipeline) gate(fd config.FilterDefinition) (httpclient.FilterConfig, error) {
	var gates []httpclient.FilterConfig
	if fd.When != "" {
		g, err := gate.Expr(fd.When, gate.WithLogger(p.logger.With("filter", fd.Name)))
		if err != nil {
			return nil, err
		}
		gates = append(gates, g)
	}
	if len(fd.Methods) > 0 {
		gates = append(gates, gate.Methods(fd.Methods...))
	}
	if fd.URLPrefix != "" {
		gates = append(gates, gate.URLPrefix(fd.URLPrefix))
	}
	switch len(gates) {
	case 0:
		return nil, nil
	case 1:
		return gates[0], nil
	default:
		return gate.All(gates...), nil
	}
}

// NewTransport builds the terminal transport described by cfg.
func NewTransport(cfg config.TransportConfig, logger *slog.Logger) httpclient.Transport {
	opts := httpclient.TransportOptions{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout.Std(),
		},
		MaxBodySize: cfg.MaxBodySize,
		Logger:      logger,
	}
	if cfg.Cookies != nil && !*cfg.Cookies {
		opts.Jar = noCookies{}
	}
	if cfg.CharsetDetect != nil && !*cfg.CharsetDetect {
		opts.CharsetDetectDisabled = true
	}
	return httpclient.NewTransport(opts)
}

type noCookies struct{}

func (noCookies) SetCookies(*url.URL, []*http.Cookie) {}
func (noCookies) Cookies(*url.URL) []*http.Cookie     { return nil }
