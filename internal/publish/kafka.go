// Accepted signals are published to Kafka for downstream consumers
// (dashboards, archival). Publishing is optional and never blocks the
// engine: failures are logged and dropped.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/scoring"
)

// SignalPublisher writes accepted signals to a Kafka topic, keyed by
// symbol so a symbol's signals stay ordered within a partition.
type SignalPublisher struct {
	writer *kafka.Writer
	topic  string
	logger zerolog.Logger
}

// NewSignalPublisher creates a Kafka signal publisher
func NewSignalPublisher(cfg config.KafkaConfig, logger zerolog.Logger) (*SignalPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: time.Second,
	}

	return &SignalPublisher{
		writer: writer,
		topic:  cfg.Topic,
		logger: logger.With().Str("component", "kafka-publisher").Logger(),
	}, nil
}

// signalPayload is the wire schema for published signals.
type signalPayload struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	Score        float64 `json:"score"`
	Entry        float64 `json:"entry"`
	Stop         float64 `json:"stop"`
	Target1      float64 `json:"target1"`
	Target2      float64 `json:"target2"`
	RewardToRisk float64 `json:"reward_to_risk"`
	ClusterID    string  `json:"cluster_id"`
	BarOpenTime  int64   `json:"bar_open_time"`
	CreatedAt    int64   `json:"created_at"`
}

// Publish sends one accepted signal.
func (p *SignalPublisher) Publish(ctx context.Context, sig scoring.Signal) error {
	payload := signalPayload{
		ID:           sig.ID,
		Symbol:       sig.Symbol,
		Direction:    string(sig.Direction),
		Score:        sig.Score,
		Entry:        sig.Plan.Entry,
		Stop:         sig.Plan.Stop,
		Target1:      sig.Plan.Target1,
		Target2:      sig.Plan.Target2,
		RewardToRisk: sig.RewardToRisk,
		ClusterID:    sig.ClusterID,
		BarOpenTime:  sig.Candidate.Bar.OpenTime,
		CreatedAt:    sig.CreatedAt.UnixMilli(),
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(sig.Symbol),
		Value: value,
		Time:  sig.CreatedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *SignalPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
