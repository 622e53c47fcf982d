// Package kafka publishes committed registry events to a Kafka topic.
// Records are keyed by document hash, so every event about one document
// lands on the same partition in commit order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gezibash/arc-provenance/internal/feed"
)

// Encodings accepted by Config.Encoding.
const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// Config configures the sink.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	// Encoding selects the record value format: json (default) or proto,
	// a google.protobuf.Struct of the record attributes.
	Encoding string
}

// Sink is a feed.Sink backed by a franz-go client.
type Sink struct {
	client *kgo.Client
	topic  string
	encode func(feed.Record) ([]byte, error)
}

// New creates a sink. Brokers are contacted lazily on first Send.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "provenance"
	}

	var encode func(feed.Record) ([]byte, error)
	switch cfg.Encoding {
	case "", EncodingJSON:
		encode = encodeJSON
	case EncodingProto:
		encode = encodeProto
	default:
		return nil, fmt.Errorf("kafka: unknown encoding %q", cfg.Encoding)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	slog.Info("kafka sink configured", "brokers", cfg.Brokers, "topic", cfg.Topic, "encoding", cfg.Encoding)
	return &Sink{client: client, topic: cfg.Topic, encode: encode}, nil
}

// Name implements feed.Sink.
func (s *Sink) Name() string { return "kafka" }

// Send produces records synchronously and returns the first failure.
func (s *Sink) Send(ctx context.Context, records []feed.Record) error {
	out := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		rec, err := s.record(r)
		if err != nil {
			return err
		}
		out = append(out, rec)
	}
	if err := s.client.ProduceSync(ctx, out...).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

func (s *Sink) record(r feed.Record) (*kgo.Record, error) {
	value, err := s.encode(r)
	if err != nil {
		return nil, fmt.Errorf("encode record at height %d: %w", r.Height, err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(r.Event.Type)},
			{Key: "height", Value: strconv.AppendUint(nil, r.Height, 10)},
		},
	}
	if !r.Event.Hash.IsZero() {
		rec.Key = []byte(r.Event.Hash.String())
	}
	return rec, nil
}

// EnsureTopic creates the topic if it does not exist.
func (s *Sink) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Close flushes nothing; Send is synchronous.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

func encodeJSON(r feed.Record) ([]byte, error) {
	return json.Marshal(r)
}

func encodeProto(r feed.Record) ([]byte, error) {
	attrs := r.Attributes()
	attrs["index"] = int64(r.Index)
	if len(r.Event.KeyBlob) > 0 {
		attrs["key_blob"] = r.Event.KeyBlob
	}
	st, err := structpb.NewStruct(attrs)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}
