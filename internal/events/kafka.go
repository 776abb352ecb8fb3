// Package events delivers verification completion notifications to downstream consumers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/BradenHooton/facegate/internal/models"
)

// EventVerificationCompleted is the event type header value
const EventVerificationCompleted = "verification.completed"

// CompletionEvent is the published payload for one recorded verification attempt
type CompletionEvent struct {
	EventID          uuid.UUID                 `json:"event_id"`
	EventType        string                    `json:"event_type"`
	RecordID         uuid.UUID                 `json:"record_id"`
	UserID           string                    `json:"user_id"`
	BusinessType     string                    `json:"business_type"`
	Result           models.VerificationResult `json:"result"`
	VerificationType models.VerificationType   `json:"verification_type"`
	RiskLevel        models.RiskLevel          `json:"risk_level"`
	Score            *float64                  `json:"score,omitempty"`
	FailureReason    *string                   `json:"failure_reason,omitempty"`
	OccurredAt       time.Time                 `json:"occurred_at"`
}

// NewCompletionEvent builds the event for rec. The context snapshot is not included.
func NewCompletionEvent(rec *models.VerificationRecord) CompletionEvent {
	return CompletionEvent{
		EventID:          uuid.New(),
		EventType:        EventVerificationCompleted,
		RecordID:         rec.ID,
		UserID:           rec.UserID,
		BusinessType:     rec.BusinessType,
		Result:           rec.Result,
		VerificationType: rec.VerificationType,
		RiskLevel:        rec.RiskLevel,
		Score:            rec.Score,
		FailureReason:    rec.FailureReason,
		OccurredAt:       rec.Timestamp,
	}
}

// MessageWriter is the subset of *kafka.Writer the handler needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the completion event writer
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaWriter creates a synchronous writer so publish failures reach the caller
func NewKafkaWriter(cfg KafkaConfig, logger *slog.Logger) *kafka.Writer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), slog.String("component", "kafka"))
		}),
	}
}

// KafkaCompletionHandler publishes completion events keyed by user id, so one user's events stay ordered
type KafkaCompletionHandler struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaCompletionHandler creates a new KafkaCompletionHandler
func NewKafkaCompletionHandler(writer MessageWriter, logger *slog.Logger) *KafkaCompletionHandler {
	return &KafkaCompletionHandler{writer: writer, logger: logger}
}

// HandleVerificationCompletion publishes rec
func (h *KafkaCompletionHandler) HandleVerificationCompletion(ctx context.Context, rec *models.VerificationRecord) error {
	event := NewCompletionEvent(rec)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode completion event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.UserID),
		Value: payload,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "business_type", Value: []byte(rec.BusinessType)},
		},
	}

	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		publishErrors.Inc()
		return fmt.Errorf("failed to publish completion event: %w", err)
	}

	published.Inc()
	h.logger.DebugContext(ctx, "completion event published",
		slog.String("record_id", rec.ID.String()),
		slog.String("event_id", event.EventID.String()),
	)
	return nil
}

// Close flushes and closes the writer
func (h *KafkaCompletionHandler) Close() error {
	return h.writer.Close()
}
