package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/lsm/httpfilter/filters/metrics"
	"github.com/lsm/httpfilter/httpclient"
	"github.com/lsm/httpfilter/internal/config"
	"github.com/lsm/httpfilter/internal/observability"
	"github.com/lsm/httpfilter/internal/pipeline"
	"github.com/lsm/httpfilter/internal/tracing"
)

// headerFlags collects repeated -header "Name: value" flags.
type headerFlags httpclient.Headers

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	slices.Sort(parts)
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header %q must look like 'Name: value'", v)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

type callOptions struct {
	configDir    string
	clientName   string
	method       string
	url          string
	data         string
	headers      headerFlags
	responseType string
	logLevel     string
	watch        bool
	interval     time.Duration
	listen       string
}

// RunCall performs a call through the filters of a configured client and
// prints the response body to stdout. A rejected call is returned as an error.
func RunCall(args []string, stdout io.Writer) error {
	opts := callOptions{headers: headerFlags{}}
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.StringVar(&opts.configDir, "config", os.Getenv("HTTPFILTER_CONFIG_DIR"), "Directory of client definitions (env HTTPFILTER_CONFIG_DIR)")
	fs.StringVar(&opts.clientName, "client", "", "Client definition to use (default: the only one)")
	fs.StringVar(&opts.method, "method", "", "HTTP method (default GET, or POST with -data)")
	fs.StringVar(&opts.url, "url", "", "Request URL (required)")
	fs.StringVar(&opts.data, "data", "", "Request body; @file reads it from a file")
	fs.Var(opts.headers, "header", "Request header 'Name: value' (repeatable)")
	fs.StringVar(&opts.responseType, "type", "json", "Response type: json, text or binary")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error). Can also be set via HTTPFILTER_LOG_LEVEL env var.")
	fs.BoolVar(&opts.watch, "watch", false, "Repeat the call, reloading the configuration when it changes")
	fs.DurationVar(&opts.interval, "interval", 5*time.Second, "Delay between calls with -watch")
	fs.StringVar(&opts.listen, "listen", "", "Address serving /metrics, /healthz and /readyz with -watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.url == "" && fs.NArg() > 0 {
		opts.url = fs.Arg(0)
	}
	if opts.url == "" {
		return errors.New("-url is required")
	}
	switch httpclient.ResponseType(opts.responseType) {
	case httpclient.ResponseJSON, httpclient.ResponseText, httpclient.ResponseBinary:
	default:
		return fmt.Errorf("unknown response type %q", opts.responseType)
	}

	level := observability.GetLogLevel(opts.logLevel)
	logger := observability.NewLogger("hfcall", level)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracer, shutdown, err := tracing.Initialize(tracing.GetConfig("hfcall"), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(reg)
	health := observability.NewHealthServer()

	def := &config.ClientDefinition{Name: "default"}
	var loader *config.Loader
	if opts.configDir != "" {
		loader = config.NewLoader(opts.configDir, logger)
		clients, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if def, err = pickClient(clients, opts.clientName); err != nil {
			return err
		}
	}

	transport := pipeline.NewTransport(def.Transport, logger)
	client := httpclient.New(httpclient.WithTransport(transport), httpclient.WithLogger(logger))
	p := pipeline.New(client,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
		pipeline.WithTracer(tracer),
		pipeline.WithTransport(transport),
		pipeline.OnApply(func(names []string) { health.PipelineApplied(len(names)) }),
	)
	defer p.Close()
	if err := p.Apply(def); err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	if !opts.watch {
		return callOnce(ctx, client, opts, stdout)
	}

	if loader != nil {
		name := def.Name
		loader.OnChange(func(clients map[string]*config.ClientDefinition) {
			next, ok := clients[name]
			if !ok {
				err := fmt.Errorf("client %q no longer defined", name)
				logger.Error("config reload rejected", "error", err)
				health.ReloadFailed(err)
				return
			}
			if err := p.Apply(next); err != nil {
				logger.Error("config reload rejected", "error", err)
				health.ReloadFailed(err)
			}
		})
		go func() {
			if err := loader.Watch(ctx.Done()); err != nil {
				logger.Error("config watch stopped", "error", err)
			}
		}()
	}

	if opts.listen != "" {
		srv := &http.Server{
			Addr:              opts.listen,
			Handler:           health.Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting", "addr", opts.listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		if err := callOnce(ctx, client, opts, stdout); err != nil {
			logger.Warn("call failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func pickClient(clients map[string]*config.ClientDefinition, name string) (*config.ClientDefinition, error) {
	if name != "" {
		def, ok := clients[name]
		if !ok {
			return nil, fmt.Errorf("client %q not found", name)
		}
		return def, nil
	}
	switch len(clients) {
	case 0:
		return nil, errors.New("no client definitions found")
	case 1:
		for _, def := range clients {
			return def, nil
		}
	}
	names := make([]string, 0, len(clients))
	for n := range clients {
		names = append(names, n)
	}
	slices.Sort(names)
	return nil, fmt.Errorf("several clients defined (%s); choose one with -client", strings.Join(names, ", "))
}

func callOnce(ctx context.Context, client *httpclient.Client, opts callOptions, stdout io.Writer) error {
	req, err := buildRequest(opts)
	if err != nil {
		return err
	}
	resp, err := client.CallForResponse(ctx, req)
	if err != nil {
		if resp, ok := httpclient.AsResponse(err); ok {
			_ = writeBody(stdout, resp.Body)
		}
		return err
	}
	return writeBody(stdout, resp.Body)
}

func buildRequest(opts callOptions) (*httpclient.Request, error) {
	method := opts.method
	var reqOpts []httpclient.RequestOption
	if opts.data != "" {
		data := []byte(opts.data)
		if path, ok := strings.CutPrefix(opts.data, "@"); ok {
			var err error
			if data, err = os.ReadFile(path); err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
		}
		var structured any
		if json.Unmarshal(data, &structured) == nil {
			reqOpts = append(reqOpts, httpclient.WithContentType("application/json"), httpclient.WithBody(structured))
		} else {
			reqOpts = append(reqOpts, httpclient.WithContentType("text/plain; charset=utf-8"), httpclient.WithBody(string(data)))
		}
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}
	reqOpts = append(reqOpts,
		httpclient.WithMethod(strings.ToUpper(method)),
		httpclient.WithResponseType(httpclient.ResponseType(opts.responseType)),
	)
	if len(opts.headers) > 0 {
		reqOpts = append(reqOpts, httpclient.WithHeaders(httpclient.Headers(maps.Clone(opts.headers))))
	}
	return httpclient.NewRequest(opts.url, reqOpts...), nil
}

// writeBody prints body, indenting structured values when out is a terminal.
func writeBody(out io.Writer, body any) error {
	switch b := body.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(out, b)
		return err
	case []byte:
		_, err := out.Write(b)
		return err
	}
	if httpclient.IsAbsent(body) {
		return nil
	}
	var (
		data []byte
		err  error
	)
	if isTerminal(out) {
		data, err = json.MarshalIndent(body, "", "  ")
	} else {
		data, err = json.Marshal(body)
	}
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
