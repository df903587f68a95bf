package poller

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"milna-relay/internal/identity"
	"milna-relay/internal/logger"
	"milna-relay/internal/relay"
	"milna-relay/models"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// State is the listener lifecycle. Polling transitions to Resolved or
// TimedOut on its own, or back to Idle via Stop.
type State int

const (
	Idle State = iota
	Polling
	Resolved
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Checker issues one check_response request. Satisfied by *relay.Client.
type Checker interface {
	CheckResponse(ctx context.Context, req models.CheckResponseRequest) ([]byte, error)
}

// Options configures one polling run. Exactly one of OnResponse, OnError,
// OnTimeout fires, after which the listener is terminal.
type Options struct {
	AgentID        string
	VisitorID      string
	SessionID      string
	ConversationID string

	OnResponse func(text string)
	OnError    func(detail string)
	OnTimeout  func()

	Timeout      time.Duration
	PollInterval time.Duration
}

// Listener polls for an asynchronously produced reply. Each instance is
// owned by one caller and serves one conversation at a time; at most one
// poll runs per instance. Construct one per exchange and let it go.
type Listener struct {
	checker Checker

	mu        sync.Mutex
	state     State
	startedAt time.Time
	cancel    context.CancelFunc
}

func NewListener(checker Checker) *Listener {
	return &Listener{checker: checker}
}

// Start begins polling. Calling Start while a poll is in flight is a
// logged no-op, not an error: the first poll keeps its timers.
func (l *Listener) Start(opts Options) {
	l.mu.Lock()
	if l.state == Polling {
		l.mu.Unlock()
		logger.Warn("Poll already in progress, ignoring start",
			"agent_id", opts.AgentID, "session_id", opts.SessionID)
		return
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.state = Polling
	l.startedAt = time.Now()
	l.cancel = cancel
	l.mu.Unlock()

	go l.run(ctx, opts)
}

// Stop cancels an in-flight poll and returns the listener to Idle. It is
// idempotent and safe from any state.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.state == Polling {
		l.state = Idle
	}
}

// IsActive reports whether a poll is in flight.
func (l *Listener) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == Polling
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Elapsed returns how long the current or last poll has been running.
func (l *Listener) Elapsed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startedAt.IsZero() {
		return 0
	}
	return time.Since(l.startedAt)
}

func (l *Listener) run(ctx context.Context, opts Options) {
	timeout := time.NewTimer(opts.Timeout)
	ticker := time.NewTicker(opts.PollInterval)
	defer timeout.Stop()
	defer ticker.Stop()

	// Immediate first check so an already-ready reply is not penalized by
	// a full interval of latency.
	if l.tick(ctx, opts) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			if l.finish(TimedOut) && opts.OnTimeout != nil {
				opts.OnTimeout()
			}
			return
		case <-ticker.C:
			if l.tick(ctx, opts) {
				return
			}
		}
	}
}

// tick performs one check_response round trip. It returns true when a
// terminal payload was observed and a callback fired. A network error on
// a single tick never aborts the poll; the next tick gets another chance
// before the overall deadline.
func (l *Listener) tick(ctx context.Context, opts Options) bool {
	tickCtx, cancel := context.WithTimeout(ctx, opts.PollInterval)
	defer cancel()

	raw, err := l.checker.CheckResponse(tickCtx, models.CheckResponseRequest{
		Action:     "check_response",
		ResponseID: identity.ResponseID(opts.AgentID, opts.VisitorID, opts.SessionID),
		AgentID:    opts.AgentID,
		VisitorID:  opts.VisitorID,
		SessionID:  opts.SessionID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Warn("Poll tick failed, will retry on next interval",
			"agent_id", opts.AgentID, "error", err.Error())
		return false
	}

	terminal, isErr, text := decodeTick(raw)
	if !terminal {
		return false
	}

	// A Stop that raced this check wins: the result is dropped and no
	// callback fires.
	if !l.finish(Resolved) {
		return true
	}
	if isErr {
		if opts.OnError != nil {
			opts.OnError(text)
		}
	} else if opts.OnResponse != nil {
		opts.OnResponse(text)
	}
	return true
}

// finish moves Polling to a terminal state. It reports false when the
// listener was already stopped, in which case the caller must not invoke
// any callback.
func (l *Listener) finish(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Polling {
		return false
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.state = s
	return true
}

// decodeTick classifies one poll response. It mirrors the normalizer's
// parse-failure branch for plain-text bodies, and otherwise recognizes the
// explicit status field the check_response action uses.
func decodeTick(raw []byte) (terminal bool, isErr bool, text string) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		// Nothing yet; keep polling.
		return false, false, ""
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		// Plain text is a direct terminal reply.
		return true, false, relay.Normalize(raw)
	}

	status, _ := obj["status"].(string)
	switch status {
	case "completed":
		if response, ok := obj["response"].(string); ok && response != "" {
			return true, false, response
		}
		// Completed with no text still terminates; fall back to the
		// normalizer so the user gets some reply.
		return true, false, relay.Normalize(raw)
	case "error":
		detail, _ := obj["error"].(string)
		if detail == "" {
			detail, _ = obj["response"].(string)
		}
		if detail == "" {
			detail = "agent returned an error"
		}
		return true, true, detail
	default:
		// No recognized terminal marker: still pending.
		return false, false, ""
	}
}
