package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milna-relay/models"
)

func testMessage() models.OutboundMessage {
	return models.OutboundMessage{
		AgentID:        "agent-1",
		AgentUUID:      "0b8e9c1c-6f7d-4e0a-9b36-0d6f0d8e9c1c",
		UserID:         "owner-1",
		Message:        "Hello",
		VisitorID:      "visitor_abc",
		SessionID:      "session_def",
		ConversationID: "conv_123",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

func TestRelaySuccessNormalizesReply(t *testing.T) {
	var got models.OutboundMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":"Hi! How can I help?"}`))
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL})
	result := client.Relay(context.Background(), testMessage())

	assert.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, "Hi! How can I help?", result.Reply)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "visitor_abc", got.VisitorID)
	assert.Equal(t, "Hello", got.Message)
}

func TestRelay429MapsToQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL})
	result := client.Relay(context.Background(), testMessage())

	assert.Equal(t, ResultQuotaExceeded, result.Kind)
}

func TestRelayNon2xxIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("workflow crashed"))
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL})
	result := client.Relay(context.Background(), testMessage())

	assert.Equal(t, ResultRemoteError, result.Kind)
	assert.Contains(t, result.Detail, "502")
	assert.Contains(t, result.Detail, "workflow crashed")
	assert.Empty(t, result.Reply)
}

// A timed-out primary must fall back to the direct endpoint exactly once,
// and the whole call must resolve rather than hang.
func TestRelayTimeoutFallsBackOnce(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer primary.Close()

	var directHits int64
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&directHits, 1)
		w.Write([]byte(`{"output":"via direct"}`))
	}))
	defer direct.Close()

	client := NewClient(Options{
		Endpoint:       primary.URL,
		DirectEndpoint: direct.URL,
		Timeout:        50 * time.Millisecond,
	})

	done := make(chan Result, 1)
	go func() {
		done <- client.Relay(context.Background(), testMessage())
	}()

	select {
	case result := <-done:
		assert.Equal(t, ResultSuccess, result.Kind)
		assert.Equal(t, "via direct", result.Reply)
		assert.Equal(t, int64(1), atomic.LoadInt64(&directHits))
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not resolve")
	}
}

func TestRelayBothEndpointsDownIsTransportFailure(t *testing.T) {
	client := NewClient(Options{
		Endpoint:       "http://127.0.0.1:1",
		DirectEndpoint: "http://127.0.0.1:1",
		Timeout:        200 * time.Millisecond,
	})
	result := client.Relay(context.Background(), testMessage())

	assert.Equal(t, ResultTransportFailure, result.Kind)
	assert.NotEmpty(t, result.Detail)
}

func TestRelayNoFallbackConfigured(t *testing.T) {
	client := NewClient(Options{
		Endpoint: "http://127.0.0.1:1",
		Timeout:  200 * time.Millisecond,
	})
	result := client.Relay(context.Background(), testMessage())

	assert.Equal(t, ResultTransportFailure, result.Kind)
}

func TestCheckResponseSetsAction(t *testing.T) {
	var got models.CheckResponseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"pending"}`))
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL})
	body, err := client.CheckResponse(context.Background(), models.CheckResponseRequest{
		ResponseID: "agent-1_visitor_abc_session_def",
		AgentID:    "agent-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "check_response", got.Action)
	assert.JSONEq(t, `{"status":"pending"}`, string(body))
}

func TestCheckResponseNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL})
	_, err := client.CheckResponse(context.Background(), models.CheckResponseRequest{ResponseID: "x"})

	assert.Error(t, err)
}
