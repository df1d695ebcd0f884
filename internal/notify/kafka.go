// Package notify publishes incident lifecycle events to external systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/escalation"
)

// DefaultTopic receives incident events when no topic is configured.
const DefaultTopic = "warden.incidents"

// IncidentEvent is the message value written for each notification.
type IncidentEvent struct {
	Type       string               `json:"type"`
	OccurredAt time.Time            `json:"occurred_at"`
	Incident   *escalation.Incident `json:"incident"`
}

// eventType names the lifecycle step an incident is in.
func eventType(s escalation.Status) string {
	return "incident." + string(s)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes one message per incident change, keyed by incident
// id so every event of an incident lands on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaNotifier(w, logger)
}

func newKafkaNotifier(w messageWriter, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, logger: logger, now: time.Now}
}

func (n *KafkaNotifier) NotifyIncident(ctx context.Context, inc *escalation.Incident) error {
	ev := IncidentEvent{
		Type:       eventType(inc.Status),
		OccurredAt: n.now().UTC(),
		Incident:   inc,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("NotifyIncident: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(inc.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(inc.Source)},
			{Key: "severity", Value: []byte(inc.Severity)},
		},
		Time: ev.OccurredAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("NotifyIncident %s: %w", inc.ID, err)
	}
	n.logger.Debug("incident event published",
		zap.String("incident_id", inc.ID),
		zap.String("type", ev.Type),
	)
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
