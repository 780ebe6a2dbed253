package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Hazard records funds that moved without a matching ledger write. Each one
// needs manual reconciliation and must never be retried automatically.
type Hazard struct {
	ContractType  string    `json:"contract_type"`
	ContractIdx   int       `json:"contract_idx"`
	Obligation    string    `json:"obligation"`
	ObligationIdx int       `json:"obligation_idx"`
	Bank          string    `json:"bank"`
	Amount        string    `json:"amount"`
	Reference     string    `json:"reference"`
	Error         string    `json:"error"`
	At            time.Time `json:"at"`
}

// HazardSink forwards hazards to whoever reconciles them.
type HazardSink interface {
	Publish(ctx context.Context, h Hazard) error
}

type discardSink struct{}

func (discardSink) Publish(context.Context, Hazard) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes hazards as JSON, keyed by obligation.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, h Hazard) error {
	value, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal hazard: %w", err)
	}
	key := fmt.Sprintf("%s_%d_%s_%d", h.ContractType, h.ContractIdx, h.Obligation, h.ObligationIdx)
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: h.At}); err != nil {
		return fmt.Errorf("failed to publish hazard: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
