package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
)

// Config tunes the client.
type Config struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// BreakerThreshold consecutive failures open the breaker for BreakerCooldown.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// DefaultConfig returns settings suited to a local kerneld.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		RetryMax:         3,
		RetryWaitMin:     100 * time.Millisecond,
		RetryWaitMax:     2 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  10 * time.Second,
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kerneld returned %d: %s", e.Code, e.Body)
}

// Client calls a kerneld introspection endpoint.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker
}

// New creates a client for baseURL with DefaultConfig.
func New(baseURL string) *Client {
	return NewWithConfig(baseURL, DefaultConfig())
}

// NewWithConfig creates a client for baseURL.
func NewWithConfig(baseURL string, cfg Config) *Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = cfg.RetryMax
	retry.RetryWaitMin = cfg.RetryWaitMin
	retry.RetryWaitMax = cfg.RetryWaitMax
	retry.Logger = nil

	r := resty.NewWithClient(retry.StandardClient()).
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "kernelctl/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	breaker := resilience.New("kerneld-http", resilience.Settings{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		// Client errors say nothing about server health.
		IsFailure: func(err error) bool {
			var se *StatusError
			return !errors.As(err, &se) || se.Code >= http.StatusInternalServerError
		},
	})

	return &Client{resty: r, breaker: breaker}
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// Health checks liveness.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.get(ctx, "/healthz", nil, &out)
}

// Stats fetches the kernel snapshot.
func (c *Client) Stats(ctx context.Context) (*kernel.Stats, error) {
	var out kernel.Stats
	if err := c.get(ctx, "/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tasks lists live tasks.
func (c *Client) Tasks(ctx context.Context) ([]kernel.TaskInfo, error) {
	var out struct {
		Tasks []kernel.TaskInfo `json:"tasks"`
	}
	if err := c.get(ctx, "/v1/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Task fetches one task by label.
func (c *Client) Task(ctx context.Context, label string) (*kernel.TaskInfo, error) {
	var out kernel.TaskInfo
	if err := c.get(ctx, "/v1/tasks/"+label, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Services lists services whose name starts with prefix; limit 0 means all.
func (c *Client) Services(ctx context.Context, prefix string, limit int) ([]service.Info, error) {
	query := map[string]string{}
	if prefix != "" {
		query["prefix"] = prefix
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}

	var out struct {
		Services []service.Info `json:"services"`
	}
	if err := c.get(ctx, "/v1/services", query, &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	return c.breaker.Execute(func() error {
		resp, err := c.resty.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetResult(out).
			Get(path)
		if err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}
		if resp.IsError() {
			return &StatusError{Code: resp.StatusCode(), Body: resp.String()}
		}
		return nil
	})
}
