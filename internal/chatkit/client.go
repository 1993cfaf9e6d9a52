// Package chatkit creates upstream chat sessions and returns their client secrets.
package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultBeta    = "chatkit_beta=v1"
	DefaultTimeout = 20 * time.Second

	maxErrorBody = 64 << 10
)

// ErrCircuitOpen is returned without contacting upstream while the breaker is open.
var ErrCircuitOpen = errors.New("upstream session API temporarily unavailable")

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Message)
}

// Config configures the session client.
type Config struct {
	BaseURL string
	Beta    string
	Timeout time.Duration
	// MaxRPS paces outbound calls across all tenants; <= 0 disables pacing.
	MaxRPS float64
	Burst  int
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client calls POST {base}/chatkit/sessions. Safe for concurrent use.
type Client struct {
	baseURL string
	beta    string
	timeout time.Duration
	http    *http.Client
	pacer   *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a session client, filling defaults for zero fields.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		beta:    cfg.Beta,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.beta == "" {
		c.beta = DefaultBeta
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}

	limit, burst := rate.Inf, cfg.Burst
	if cfg.MaxRPS > 0 {
		limit = rate.Limit(cfg.MaxRPS)
		if burst <= 0 {
			burst = max(1, int(cfg.MaxRPS))
		}
	}
	c.pacer = rate.NewLimiter(limit, burst)

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chatkit-sessions",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// One tenant's rejected credential must not open the breaker for everyone.
		IsSuccessful: func(err error) bool {
			var gone *callerGoneError
			if errors.As(err, &gone) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("upstream.breaker_state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// callerGoneError marks a failure caused by the caller's own context ending.
// The breaker counts it as neutral so hung-up clients cannot open the circuit.
type callerGoneError struct{ err error }

func (e *callerGoneError) Error() string { return e.err.Error() }
func (e *callerGoneError) Unwrap() error { return e.err }

// SessionRequest identifies the workflow and credential for one session.
type SessionRequest struct {
	Credential string
	WorkflowID string
	User       string
}

// Session is the upstream response; ClientSecret is handed to the browser unchanged.
type Session struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

type sessionBody struct {
	Workflow struct {
		ID string `json:"id"`
	} `json:"workflow"`
	User string `json:"user"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession performs exactly one upstream call, bounded by the configured timeout.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := otel.Tracer("embedkit/chatkit").Start(ctx, "chatkit.create_session",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("chatkit.workflow_id", req.WorkflowID))

	parent := ctx
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	if err := c.pacer.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("chatkit.paced_out", true))
		span.SetStatus(codes.Error, "pacing")
		return nil, fmt.Errorf("wait for upstream slot: %w", err)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		s, err := c.do(ctx, req)
		if err != nil && parent.Err() != nil {
			return nil, &callerGoneError{err: err}
		}
		return s, err
	})
	var gone *callerGoneError
	if errors.As(err, &gone) {
		span.SetAttributes(attribute.Bool("chatkit.caller_gone", true))
		err = gone.err
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("chatkit.circuit_open", true))
			err = ErrCircuitOpen
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return nil, err
	}
	return res.(*Session), nil
}

func (c *Client) do(ctx context.Context, req SessionRequest) (*Session, error) {
	var body sessionBody
	body.Workflow.ID = req.WorkflowID
	body.User = req.User
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chatkit/sessions", bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	httpReq.Header.Set("OpenAI-Beta", c.beta)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if session.ClientSecret == "" {
		return nil, &APIError{Status: resp.StatusCode, Message: "upstream response missing client_secret"}
	}
	return &session, nil
}

func parseAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
		apiErr.Message = eb.Error.Message
	} else {
		apiErr.Message = "Failed to create session"
	}
	return apiErr
}
