// Package events publishes transition outcomes to Kafka for downstream
// consumers (chat notifiers, SIEM forwarders). The authorization backends
// remain the system of record; records here are fire-and-forget.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/pim/internal/domain"
)

// DefaultTopic is the topic transition outcomes are produced to.
const DefaultTopic = "pim-transitions"

// Producer wraps the franz-go Kafka client.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer creates a Producer for the given brokers. topic falls back to
// DefaultTopic when empty.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, topic: topic}, nil
}

// transitionRecord is the wire shape of one produced outcome.
type transitionRecord struct {
	PrincipalID string             `json:"principal_id"`
	Action      domain.Action      `json:"action"`
	Role        string             `json:"role"`
	Backend     domain.BackendKind `json:"backend"`
	Scope       string             `json:"scope"`
	Outcome     domain.OutcomeKind `json:"outcome"`
	Reason      string             `json:"reason,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// PublishReport produces one record per role outcome, keyed by principal so
// one principal's transitions stay ordered. Produce errors are logged, never
// surfaced: a broken event tap must not fail the session.
func (p *Producer) PublishReport(ctx context.Context, principalID string, action domain.Action, report domain.Report) {
	now := time.Now().UTC()
	for _, outcome := range report.Outcomes {
		payload, err := json.Marshal(transitionRecord{
			PrincipalID: principalID,
			Action:      action,
			Role:        outcome.Role.DisplayName,
			Backend:     outcome.Role.Backend,
			Scope:       outcome.Role.ScopeID,
			Outcome:     outcome.Kind,
			Reason:      outcome.Reason,
			OccurredAt:  now,
		})
		if err != nil {
			log.Error().Err(err).Msg("marshal transition record")
			continue
		}

		record := &kgo.Record{
			Topic: p.topic,
			Key:   []byte(principalID),
			Value: payload,
		}
		p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
			if err != nil {
				log.Warn().Err(err).Str("topic", p.topic).Msg("transition event not delivered")
			}
		})
	}
}

// Close flushes pending records and releases the client.
func (p *Producer) Close(ctx context.Context) {
	if err := p.client.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("flush transition events")
	}
	p.client.Close()
}
