package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
)

// KafkaPublisher streams finished run summaries to a Kafka topic for
// downstream monitoring consumers. The run id keys each message so all
// events for one run land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

var _ ports.RunEventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a synchronous writer for the broker/topic.
func NewKafkaPublisher(broker, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// PublishRunFinished marshals the run summary and writes one message.
func (p *KafkaPublisher) PublishRunFinished(ctx context.Context, run domain.SyncRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(run.ID),
		Value: payload,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write run event: %w", err)
	}

	if p.logger != nil {
		p.logger.Debug("published run event", "run_id", run.ID, "status", run.Status)
	}
	return nil
}

// Close releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
