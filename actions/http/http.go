// Package http provides the http_request action: the repository's example of
// an action that is a thin call into an external client.
package http

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowbotio/flowbot/runtime"
)

// Config holds the HTTP client configuration with declarative tags.
type Config struct {
	Timeout     time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	RetryWaitMS int           `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
	Debug       bool          `yaml:"debug" default:"false"`
}

// requestConfig is the typed shape of the http_request action config.
type requestConfig struct {
	URL         string         `json:"url"`
	Method      string         `json:"method"`
	Headers     map[string]any `json:"headers"`
	QueryParams map[string]any `json:"query"`
	Body        map[string]any `json:"body"`
}

// RequestHandler executes HTTP requests through a shared resty client.
type RequestHandler struct {
	client *resty.Client
}

// New builds the handler, applying config defaults and validation.
func New(cfg Config) (*RequestHandler, error) {
	if err := runtime.PrepareConfig(&cfg); err != nil {
		return nil, err
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond).
		SetDebug(cfg.Debug)
	return &RequestHandler{client: client}, nil
}

func (h *RequestHandler) Name() string { return "http_request" }

func (h *RequestHandler) Validate(config map[string]any) error {
	var req requestConfig
	if err := runtime.DecodeConfig(config, &req); err != nil {
		return err
	}
	if req.URL == "" {
		return fmt.Errorf("http_request requires a 'url'")
	}
	switch req.Method {
	case "", "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		return nil
	default:
		return fmt.Errorf("unsupported HTTP method %q", req.Method)
	}
}

func (h *RequestHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	resolved, err := runtime.ResolveTemplates(actx, actx.Deps().Evaluator, config)
	if err != nil {
		return nil, err
	}

	var req requestConfig
	if err := runtime.DecodeConfig(resolved.(map[string]any), &req); err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	response := map[string]any{}
	errorResponse := map[string]any{}

	// actx implements context.Context, so the execution's deadline and
	// cancellation apply to the request.
	resp, err := h.client.R().
		SetContext(actx).
		SetHeaders(runtime.ToStringValueMap(req.Headers)).
		SetQueryParams(runtime.ToStringValueMap(req.QueryParams)).
		SetBody(req.Body).
		SetResult(&response).
		SetError(&errorResponse).
		Execute(req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	body := response
	if resp.IsError() {
		body = errorResponse
	}
	return map[string]any{
		"status":      resp.Status(),
		"status_code": resp.StatusCode(),
		"is_error":    resp.IsError(),
		"body":        body,
	}, nil
}
