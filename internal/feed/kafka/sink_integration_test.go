//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/gezibash/arc-provenance/internal/feed"
)

func TestSendToRedpanda(t *testing.T) {
	ctx := context.Background()
	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.7")
	if err != nil {
		t.Fatalf("failed to start redpanda: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{Brokers: []string{broker}, Topic: "provenance.events"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.EnsureTopic(ctx, 1, 1); err != nil {
		t.Fatalf("EnsureTopic: %v", err)
	}
	if err := s.EnsureTopic(ctx, 1, 1); err != nil {
		t.Fatalf("EnsureTopic is not idempotent: %v", err)
	}

	want := testRecord()
	if err := s.Send(ctx, []feed.Record{want}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics("provenance.events"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(pollCtx)
	if errs := fetches.Errors(); len(errs) > 0 {
		t.Fatalf("poll: %v", errs)
	}
	recs := fetches.Records()
	if len(recs) != 1 {
		t.Fatalf("consumed %d records, want 1", len(recs))
	}
	var got feed.Record
	if err := json.Unmarshal(recs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Height != want.Height || got.Event.Hash != want.Event.Hash {
		t.Fatalf("consumed %+v", got)
	}
}
