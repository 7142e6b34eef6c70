package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByRetailer(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	ev := RetailerSynced{RunID: "run-1", Retailer: "edeka", Phase: "DONE", Fetched: 3, Upserted: 3}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("msgs=%d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "edeka" || len(m.Headers) != 1 || string(m.Headers[0].Value) != "run-1" {
		t.Fatalf("message=%+v", m)
	}
	var got RetailerSynced
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != "DONE" || got.Upserted != 3 {
		t.Fatalf("got=%+v", got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close err=%v closed=%v", err, w.closed)
	}
}

func TestKafkaPublisherWrapsError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}}
	err := p.Publish(context.Background(), RetailerSynced{Retailer: "lidl"})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), RetailerSynced{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
