// Package cloudevent wraps outgoing request bodies as CloudEvents.
package cloudevent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lsm/httpfilter/httpclient"
)

// ContentTypeStructured is the media type of a structured-mode event.
const ContentTypeStructured = "application/cloudevents+json"

// Mode selects the HTTP binding.
type Mode string

const (
	// Structured sends the whole event as the JSON body.
	Structured Mode = "structured"
	// Binary keeps the body as event data and sends attributes as ce-* headers.
	Binary Mode = "binary"
)

// Config describes the event attributes. Type, Source and Subject may be
// literals or "$.path" expressions resolved against the JSON body; a path
// that does not resolve is used literally.
type Config struct {
	Type    string `yaml:"type"`
	Source  string `yaml:"source"`
	Subject string `yaml:"subject"`
	Mode    Mode   `yaml:"mode"`
}

// Filter turns the request body into the data of a CloudEvent.
type Filter struct {
	cfg   Config
	clock func() time.Time
	newID func() string
}

// New creates a CloudEvent filter. Type and Source default to
// "httpfilter.request" and "httpfilter".
func New(cfg Config) *Filter {
	if cfg.Type == "" {
		cfg.Type = "httpfilter.request"
	}
	if cfg.Source == "" {
		cfg.Source = "httpfilter"
	}
	if cfg.Mode == "" {
		cfg.Mode = Structured
	}
	return &Filter{cfg: cfg, clock: time.Now, newID: uuid.NewString}
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	event, err := f.build(req)
	if err != nil {
		return nil, httpclient.Reject(httpclient.NewResponse(req, 0, "", nil, httpclient.Absent), err)
	}

	switch f.cfg.Mode {
	case Binary:
		req.AddHeader("Ce-Specversion", event.SpecVersion())
		req.AddHeader("Ce-Id", event.ID())
		req.AddHeader("Ce-Source", event.Source())
		req.AddHeader("Ce-Type", event.Type())
		req.AddHeader("Ce-Time", event.Time().UTC().Format(time.RFC3339))
		if event.Subject() != "" {
			req.AddHeader("Ce-Subject", event.Subject())
		}
	default:
		wrapped, err := json.Marshal(event)
		if err != nil {
			return nil, httpclient.Reject(httpclient.NewResponse(req, 0, "", nil, httpclient.Absent), fmt.Errorf("cloudevent: %w", err))
		}
		req.ContentType = ContentTypeStructured
		req.Body = wrapped
	}
	return next.Advance(ctx, req)
}

func (f *Filter) build(req *httpclient.Request) (*cloudevents.Event, error) {
	data, err := bodyJSON(req.Body)
	if err != nil {
		return nil, fmt.Errorf("cloudevent: %w", err)
	}
	parsed := gjson.ParseBytes(data)

	event := cloudevents.NewEvent()
	event.SetID(f.newID())
	event.SetType(resolve(parsed, f.cfg.Type))
	event.SetSource(resolve(parsed, f.cfg.Source))
	event.SetTime(f.clock().UTC())
	if f.cfg.Subject != "" {
		event.SetSubject(resolve(parsed, f.cfg.Subject))
	}
	if len(data) > 0 {
		if err := event.SetData(cloudevents.ApplicationJSON, json.RawMessage(data)); err != nil {
			return nil, fmt.Errorf("cloudevent data: %w", err)
		}
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("cloudevent: %w", err)
	}
	return &event, nil
}

func bodyJSON(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		if !json.Valid(b) {
			return nil, fmt.Errorf("request body is not JSON")
		}
		return b, nil
	case string:
		if !json.Valid([]byte(b)) {
			return nil, fmt.Errorf("request body is not JSON")
		}
		return []byte(b), nil
	}
	if httpclient.IsAbsent(body) {
		return nil, nil
	}
	return json.Marshal(body)
}

func resolve(parsed gjson.Result, expr string) string {
	if !strings.HasPrefix(expr, "$.") {
		return expr
	}
	if v := parsed.Get(expr[2:]); v.Exists() {
		return v.String()
	}
	return expr
}
