package team

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Telemetry envelope types.
const (
	EnvelopeAnnounce  = "announce"
	EnvelopeHeartbeat = "heartbeat"
	EnvelopeDecision  = "decision"
)

// Envelope is the wire format for all team telemetry messages. Telemetry is
// pure observability: it is never consulted for arbitration.
type Envelope struct {
	Type      string    `json:"type"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// AnnouncePayload is sent on join, leave, and heartbeat.
type AnnouncePayload struct {
	Action string `json:"action"` // "join", "leave", "heartbeat"
	Name   string `json:"name"`
	Leader bool   `json:"leader"`
}

// DecisionPayload records one arbitration outcome for the audit trail.
type DecisionPayload struct {
	RoomID  string `json:"room_id"`
	TraceID string `json:"trace_id"`
	Action  string `json:"action"`
	Reason  string `json:"reason"`
	Owner   bool   `json:"owner"`
}

// TelemetryConfig configures the optional Kafka telemetry publisher.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers  string `json:"brokers" envconfig:"BROKERS"`
	TeamName string `json:"teamName" envconfig:"TEAM_NAME"`
}

// TelemetryTopic returns the single telemetry topic for a team.
func TelemetryTopic(teamName string) string {
	return fmt.Sprintf("chorus.%s.telemetry", sanitizeTopic(teamName))
}

func sanitizeTopic(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '-'
	}, name)
}

// TelemetryPublisher writes roster and decision envelopes to Kafka.
type TelemetryPublisher struct {
	selfID string
	writer *kafka.Writer
}

// NewTelemetryPublisher creates a publisher for the team's telemetry topic.
func NewTelemetryPublisher(cfg TelemetryConfig, selfID string) *TelemetryPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        TelemetryTopic(cfg.TeamName),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &TelemetryPublisher{selfID: selfID, writer: writer}
}

// Announce publishes a roster action ("join", "leave", "heartbeat").
func (p *TelemetryPublisher) Announce(ctx context.Context, action, name string, leader bool) error {
	return p.publish(ctx, Envelope{
		Type:      envelopeTypeFor(action),
		SenderID:  p.selfID,
		Timestamp: time.Now(),
		Payload:   AnnouncePayload{Action: action, Name: name, Leader: leader},
	})
}

// PublishDecision records an arbitration outcome.
func (p *TelemetryPublisher) PublishDecision(ctx context.Context, d DecisionPayload) error {
	return p.publish(ctx, Envelope{
		Type:      EnvelopeDecision,
		SenderID:  p.selfID,
		Timestamp: time.Now(),
		Payload:   d,
	})
}

// Close flushes and closes the underlying writer.
func (p *TelemetryPublisher) Close() error {
	return p.writer.Close()
}

func (p *TelemetryPublisher) publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal telemetry envelope: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.selfID),
		Value: body,
	})
	if err != nil {
		// Telemetry loss is never fatal to arbitration.
		slog.Warn("telemetry publish failed", "type", env.Type, "error", err)
		return fmt.Errorf("write telemetry: %w", err)
	}
	return nil
}

func envelopeTypeFor(action string) string {
	if action == "heartbeat" {
		return EnvelopeHeartbeat
	}
	return EnvelopeAnnounce
}
