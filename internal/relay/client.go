package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"milna-relay/internal/logger"
	"milna-relay/models"
)

const (
	// DefaultTimeout bounds one relay attempt end to end.
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of an agent reply is read. Workflow
	// replies are short; anything larger is a misbehaving endpoint.
	maxResponseBytes = 1 << 20
)

// Options configures a relay client. Endpoint is required; DirectEndpoint
// is optional and enables the single-attempt fallback when the primary is
// unreachable.
type Options struct {
	Endpoint       string
	DirectEndpoint string
	Timeout        time.Duration
	Headers        map[string]string
	RequestsPerMin int
}

// Client forwards widget messages to the automation engine. The primary
// endpoint sits behind a circuit breaker; when it is unreachable (or the
// breaker is open) exactly one fallback POST goes to the direct endpoint.
// The fallback exists because the relay proxy can be down while the
// workflow engine itself remains reachable.
type Client struct {
	httpClient *http.Client
	opts       Options
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

// httpReply is the transport-level outcome of one POST attempt.
type httpReply struct {
	status int
	body   []byte
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = 300
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "AgentEndpoint",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	// RPM limit with some buffer
	limiter := rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMin)*0.9/60.0), opts.RequestsPerMin/10+1)

	return &Client{
		httpClient: &http.Client{},
		opts:       opts,
		breaker:    breaker,
		limiter:    limiter,
	}
}

// Relay sends one outbound message and returns its terminal outcome. It
// never returns an error: every failure mode maps to a Result variant.
func (c *Client) Relay(ctx context.Context, msg models.OutboundMessage) Result {
	tracer := otel.Tracer("relay-client")
	ctx, span := tracer.Start(ctx, "relay.send")
	defer span.End()

	span.SetAttributes(
		attribute.String("relay.agent_id", msg.AgentID),
		attribute.String("relay.conversation_id", msg.ConversationID),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("relay.rate_limited", true))
		return TransportFailure(fmt.Sprintf("rate limiter: %v", err))
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return TransportFailure(fmt.Sprintf("encode request: %v", err))
	}

	// Primary attempt, guarded by the circuit breaker. HTTP status codes
	// are not breaker failures; only transport-level errors count.
	primary, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, c.opts.Endpoint, body)
	})
	if err == nil {
		span.SetAttributes(attribute.Bool("relay.primary", true))
		return c.classify(primary.(*httpReply))
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Warn("Primary endpoint circuit open, using direct endpoint", "agent_id", msg.AgentID)
	} else {
		logger.Warn("Primary relay attempt failed", "agent_id", msg.AgentID, "error", err.Error())
	}

	if c.opts.DirectEndpoint == "" {
		span.SetAttributes(attribute.Bool("relay.transport_failure", true))
		return TransportFailure(fmt.Sprintf("primary endpoint: %v", err))
	}

	// Exactly one fallback attempt, never a retry loop.
	span.SetAttributes(attribute.Bool("relay.fallback", true))
	fallback, fbErr := c.post(ctx, c.opts.DirectEndpoint, body)
	if fbErr != nil {
		span.SetAttributes(attribute.Bool("relay.transport_failure", true))
		return TransportFailure(fmt.Sprintf("primary: %v; direct: %v", err, fbErr))
	}
	return c.classify(fallback)
}

// CheckResponse issues one check_response poll tick. Tick-level errors are
// returned to the caller (the poller), which absorbs them and keeps
// polling; there is no fallback on this path.
func (c *Client) CheckResponse(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
	req.Action = "check_response"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode check_response: %w", err)
	}

	reply, err := c.post(ctx, c.opts.Endpoint, body)
	if err != nil {
		return nil, err
	}
	if reply.status < 200 || reply.status > 299 {
		return nil, fmt.Errorf("check_response status %d", reply.status)
	}
	return reply.body, nil
}

// post performs one POST bounded by the client timeout. A non-2xx status
// is not an error here; callers decide what statuses mean.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*httpReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timeout after %s: %w", c.opts.Timeout, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &httpReply{status: resp.StatusCode, body: data}, nil
}

// classify maps an HTTP reply to a Result. 429 is reserved for the quota
// cap signaled by the relay intermediary; every other non-2xx status is a
// remote error whose detail stays in the logs.
func (c *Client) classify(reply *httpReply) Result {
	switch {
	case reply.status == http.StatusTooManyRequests:
		return QuotaExceeded()
	case reply.status >= 200 && reply.status <= 299:
		return Success(Normalize(reply.body))
	default:
		return RemoteError(fmt.Sprintf("status %d: %s", reply.status, string(reply.body)))
	}
}
