package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"milna-relay/models"
)

type checkFunc func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error)

func (f checkFunc) CheckResponse(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
	return f(ctx, req)
}

func alwaysPending(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
	return []byte(`{"status":"pending"}`), nil
}

func testOptions(opts Options) Options {
	opts.AgentID = "agent-1"
	opts.VisitorID = "visitor_abc"
	opts.SessionID = "session_def"
	if opts.Timeout == 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	return opts
}

func TestImmediateCompletedSkipsFirstInterval(t *testing.T) {
	listener := NewListener(checkFunc(func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
		return []byte(`{"status":"completed","response":"ready"}`), nil
	}))

	got := make(chan string, 1)
	start := time.Now()
	listener.Start(testOptions(Options{
		PollInterval: 10 * time.Second, // would dominate if the fast path waited
		OnResponse:   func(text string) { got <- text },
		OnError:      func(string) { t.Error("OnError called") },
		OnTimeout:    func() { t.Error("OnTimeout called") },
	}))

	select {
	case text := <-got:
		assert.Equal(t, "ready", text)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("OnResponse never fired")
	}

	assert.Eventually(t, func() bool { return listener.State() == Resolved },
		time.Second, 10*time.Millisecond)
	assert.False(t, listener.IsActive())
}

func TestErrorStatusFiresOnError(t *testing.T) {
	listener := NewListener(checkFunc(func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
		return []byte(`{"status":"error","error":"workflow exploded"}`), nil
	}))

	got := make(chan string, 1)
	listener.Start(testOptions(Options{
		OnResponse: func(string) { t.Error("OnResponse called") },
		OnError:    func(detail string) { got <- detail },
	}))

	select {
	case detail := <-got:
		assert.Equal(t, "workflow exploded", detail)
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never fired")
	}
}

func TestPlainTextIsTerminalReply(t *testing.T) {
	listener := NewListener(checkFunc(func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
		return []byte("here is your answer"), nil
	}))

	got := make(chan string, 1)
	listener.Start(testOptions(Options{
		OnResponse: func(text string) { got <- text },
	}))

	select {
	case text := <-got:
		assert.Equal(t, "here is your answer", text)
	case <-time.After(2 * time.Second):
		t.Fatal("OnResponse never fired")
	}
}

// Network errors on individual ticks must not end the poll early; the
// overall timeout is the only thing that stops it.
func TestTickErrorsRunOutTheClock(t *testing.T) {
	var ticks int64
	listener := NewListener(checkFunc(func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
		atomic.AddInt64(&ticks, 1)
		return nil, errors.New("connection refused")
	}))

	timedOut := make(chan struct{})
	start := time.Now()
	listener.Start(testOptions(Options{
		Timeout:      150 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		OnResponse:   func(string) { t.Error("OnResponse called") },
		OnError:      func(string) { t.Error("OnError called") },
		OnTimeout:    func() { close(timedOut) },
	}))

	select {
	case <-timedOut:
		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, 140*time.Millisecond)
		assert.Less(t, elapsed, time.Second)
		assert.GreaterOrEqual(t, atomic.LoadInt64(&ticks), int64(2))
	case <-time.After(2 * time.Second):
		t.Fatal("OnTimeout never fired")
	}
	assert.Equal(t, TimedOut, listener.State())
}

// A second Start while polling must not arm a second timer pair.
func TestDoubleStartDoesNotLeakTickers(t *testing.T) {
	var ticks int64
	listener := NewListener(checkFunc(func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
		atomic.AddInt64(&ticks, 1)
		return []byte(`{}`), nil
	}))

	opts := testOptions(Options{
		Timeout:      5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	listener.Start(opts)
	listener.Start(opts) // no-op
	defer listener.Stop()

	time.Sleep(275 * time.Millisecond)

	// One immediate check plus ~5 interval ticks. A leaked second ticker
	// would roughly double this.
	count := atomic.LoadInt64(&ticks)
	assert.GreaterOrEqual(t, count, int64(4))
	assert.LessOrEqual(t, count, int64(8))
	assert.True(t, listener.IsActive())
}

func TestStopIsIdempotent(t *testing.T) {
	listener := NewListener(checkFunc(alwaysPending))

	listener.Stop() // stop before any start is safe

	listener.Start(testOptions(Options{Timeout: 5 * time.Second}))
	assert.True(t, listener.IsActive())

	listener.Stop()
	listener.Stop()

	assert.False(t, listener.IsActive())
	assert.Equal(t, Idle, listener.State())
}

// A stopped listener must stay silent even when a check that was already
// in flight comes back with a terminal reply.
func TestStopDropsInFlightResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	listener := NewListener(checkFunc(func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
		close(entered)
		<-release
		return []byte(`{"status":"completed","response":"too late"}`), nil
	}))

	listener.Start(testOptions(Options{
		Timeout:    5 * time.Second,
		OnResponse: func(string) { t.Error("OnResponse called after Stop") },
		OnError:    func(string) { t.Error("OnError called after Stop") },
		OnTimeout:  func() { t.Error("OnTimeout called after Stop") },
	}))

	<-entered
	listener.Stop()
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Idle, listener.State())
}

func TestRestartAfterStop(t *testing.T) {
	listener := NewListener(checkFunc(func(ctx context.Context, req models.CheckResponseRequest) ([]byte, error) {
		return []byte(`{"status":"completed","response":"second run"}`), nil
	}))

	listener.Start(testOptions(Options{}))
	listener.Stop()

	got := make(chan string, 1)
	listener.Start(testOptions(Options{
		OnResponse: func(text string) { got <- text },
	}))

	select {
	case text := <-got:
		assert.Equal(t, "second run", text)
	case <-time.After(2 * time.Second):
		t.Fatal("restart never resolved")
	}
}

func TestElapsedGrowsWhilePolling(t *testing.T) {
	listener := NewListener(checkFunc(alwaysPending))
	assert.Equal(t, time.Duration(0), listener.Elapsed())

	listener.Start(testOptions(Options{Timeout: 5 * time.Second}))
	defer listener.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, listener.Elapsed(), time.Duration(0))
}

func TestDecodeTick(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		terminal bool
		isErr    bool
		text     string
	}{
		{"empty still pending", "", false, false, ""},
		{"no status still pending", `{"foo":"bar"}`, false, false, ""},
		{"pending status", `{"status":"pending"}`, false, false, ""},
		{"completed", `{"status":"completed","response":"done"}`, true, false, "done"},
		{"error with detail", `{"status":"error","error":"boom"}`, true, true, "boom"},
		{"error detail in response", `{"status":"error","response":"bad"}`, true, true, "bad"},
		{"error without detail", `{"status":"error"}`, true, true, "agent returned an error"},
		{"plain text", "all good", true, false, "all good"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terminal, isErr, text := decodeTick([]byte(tt.raw))
			assert.Equal(t, tt.terminal, terminal)
			assert.Equal(t, tt.isErr, isErr)
			assert.Equal(t, tt.text, text)
		})
	}
}
