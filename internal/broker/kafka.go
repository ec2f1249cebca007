// internal/broker/kafka.go
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pulkita2007/meter-system/internal/data"
)

// Publisher streams accepted readings and raised alerts to Kafka for
// downstream analytics, plus a DLQ topic for payloads that failed
// validation on the MQTT path. Messages are keyed by device id so one
// device's events land on one partition in order.
type Publisher struct {
	readings *kafka.Writer
	alerts   *kafka.Writer
	dlq      *kafka.Writer
}

func NewPublisher(brokers []string, readingsTopic, alertsTopic, dlqTopic string) *Publisher {
	balancer := &kafka.Hash{}
	newWriter := func(topic string, batch int) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     balancer,
			BatchSize:    batch,
			RequiredAcks: kafka.RequireAll,
		}
	}
	return &Publisher{
		readings: newWriter(readingsTopic, 100),
		alerts:   newWriter(alertsTopic, 10),
		dlq:      newWriter(dlqTopic, 10),
	}
}

func (p *Publisher) PublishReading(ctx context.Context, r *data.Reading) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reading event: %w", err)
	}
	return p.readings.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.DeviceID),
		Value: value,
	})
}

func (p *Publisher) PublishAlert(ctx context.Context, a *data.Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	return p.alerts.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.DeviceID),
		Value: value,
	})
}

// PublishInvalid wraps a rejected raw payload in a DLQ envelope.
func (p *Publisher) PublishInvalid(ctx context.Context, topic string, raw []byte, reason error) error {
	var original any = string(raw)
	if json.Valid(raw) {
		original = json.RawMessage(raw)
	}
	envelope := map[string]any{
		"error":      reason.Error(),
		"original":   original,
		"topic":      topic,
		"receivedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode dlq envelope: %w", err)
	}
	return p.dlq.WriteMessages(ctx, kafka.Message{
		Key:   []byte("invalid"),
		Value: value,
	})
}

func (p *Publisher) Close() {
	_ = p.readings.Close()
	_ = p.alerts.Close()
	_ = p.dlq.Close()
}
