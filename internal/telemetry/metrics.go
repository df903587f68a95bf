package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RelayRequests   metric.Int64Counter
	RelayDuration   metric.Float64Histogram
	QuotaBlocks     metric.Int64Counter
	PollResolutions metric.Int64Counter
	CallbackReplies metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("milna-relay")

	relayRequests, err := meter.Int64Counter(
		"relay.requests.total",
		metric.WithDescription("Relayed messages by terminal outcome"),
	)
	if err != nil {
		return nil, err
	}

	relayDuration, err := meter.Float64Histogram(
		"relay.request.duration",
		metric.WithDescription("Relay round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	quotaBlocks, err := meter.Int64Counter(
		"quota.blocks.total",
		metric.WithDescription("Messages blocked by the message cap"),
	)
	if err != nil {
		return nil, err
	}

	pollResolutions, err := meter.Int64Counter(
		"poll.resolutions.total",
		metric.WithDescription("Polling fallback outcomes"),
	)
	if err != nil {
		return nil, err
	}

	callbackReplies, err := meter.Int64Counter(
		"callback.replies.total",
		metric.WithDescription("Async replies received from the agent webhook"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RelayRequests:   relayRequests,
		RelayDuration:   relayDuration,
		QuotaBlocks:     quotaBlocks,
		PollResolutions: pollResolutions,
		CallbackReplies: callbackReplies,
	}, nil
}

// RecordRelay records one relay outcome and its duration.
func (m *Metrics) RecordRelay(agentID, outcome string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("relay.agent_id", agentID),
		attribute.String("relay.outcome", outcome),
	}

	m.RelayRequests.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RelayDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordQuotaBlock records a message stopped by the cap.
func (m *Metrics) RecordQuotaBlock(agentID string) {
	m.QuotaBlocks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("relay.agent_id", agentID),
	))
}

// RecordPollResolution records how a polling fallback ended.
func (m *Metrics) RecordPollResolution(agentID, outcome string) {
	m.PollResolutions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("relay.agent_id", agentID),
		attribute.String("poll.outcome", outcome),
	))
}

// RecordCallbackReply records one webhook callback from the agent.
func (m *Metrics) RecordCallbackReply(status string) {
	m.CallbackReplies.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("callback.status", status),
	))
}
