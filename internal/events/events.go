// Package events publishes per-retailer run outcomes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// RetailerSynced is emitted once a retailer reaches DONE or FAILED.
type RetailerSynced struct {
	RunID     string    `json:"run_id"`
	Retailer  string    `json:"retailer"`
	Phase     string    `json:"phase"`
	Fetched   int       `json:"fetched"`
	Embedded  int       `json:"embedded"`
	Upserted  int       `json:"upserted"`
	Failed    int       `json:"failed"`
	Pruned    int       `json:"pruned"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, ev RetailerSynced) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, RetailerSynced) error { return nil }
func (Nop) Close() error                                  { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by retailer.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev RetailerSynced) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Retailer),
		Value: body,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	})
	return errors.Wrapf(err, "publish %s event", ev.Retailer)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
