// Package events publishes urgent side-effect alerts to the configured
// broker so on-call clinical teams can be paged outside the web app.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const TypeUrgentSideEffect = "side_effect.urgent"

// UrgentSideEffect is emitted once, when a report is created with a grade
// that needs urgent attention.
type UrgentSideEffect struct {
	Type               string     `json:"type"`
	SideEffectID       uuid.UUID  `json:"side_effect_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PrimaryClinicianID *uuid.UUID `json:"primary_clinician_id,omitempty"`
	CTCAEEventID       uuid.UUID  `json:"ctcae_event_id"`
	EventName          string     `json:"event_name"`
	Grade              int        `json:"grade"`
	OnsetDate          string     `json:"onset_date"`
	ReportedAt         time.Time  `json:"reported_at"`
}

func (e UrgentSideEffect) encode() ([]byte, error) {
	if e.Type == "" {
		e.Type = TypeUrgentSideEffect
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", TypeUrgentSideEffect, err)
	}
	return b, nil
}

// Publisher delivers alerts. Implementations are safe for concurrent use.
type Publisher interface {
	PublishUrgent(ctx context.Context, evt UrgentSideEffect) error
	Close() error
}

// Config selects and configures the backend.
type Config struct {
	Backend     string // log, kafka or sqs
	KafkaBroker []string
	KafkaTopic  string
	SQSQueueURL string
}

// New builds the publisher for cfg.Backend.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLogPublisher(logger), nil
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic), nil
	case "sqs":
		return NewSQSPublisher(ctx, cfg.SQSQueueURL)
	default:
		return nil, fmt.Errorf("unknown alerts backend %q", cfg.Backend)
	}
}

type logPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher writes alerts to the structured log only.
func NewLogPublisher(logger zerolog.Logger) Publisher {
	return &logPublisher{logger: logger.With().Str("component", "alerts").Logger()}
}

func (p *logPublisher) PublishUrgent(_ context.Context, evt UrgentSideEffect) error {
	p.logger.Warn().
		Str("type", TypeUrgentSideEffect).
		Str("side_effect_id", evt.SideEffectID.String()).
		Str("patient_id", evt.PatientID.String()).
		Str("event_name", evt.EventName).
		Int("grade", evt.Grade).
		Msg("urgent side effect reported")
	return nil
}

func (p *logPublisher) Close() error { return nil }
