package kafka

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gezibash/arc-provenance/internal/feed"
	"github.com/gezibash/arc-provenance/internal/registry"
)

func testRecord() feed.Record {
	var viewer registry.Principal
	viewer[19] = 0x0f
	return feed.Record{
		Height:    12,
		Timestamp: 1_700_000_012,
		Op:        registry.OpGrantAccess,
		Index:     0,
		Event: registry.Event{
			Type:    registry.EventAccessGranted,
			Hash:    registry.HashOf([]byte("doc")),
			Viewer:  viewer,
			KeyBlob: []byte{0xde, 0xad},
		},
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no brokers", Config{Topic: "t"}},
		{"no topic", Config{Brokers: []string{"localhost:9092"}}},
		{"bad encoding", Config{Brokers: []string{"localhost:9092"}, Topic: "t", Encoding: "avro"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRecordKeyAndHeaders(t *testing.T) {
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "events"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	r := testRecord()
	rec, err := s.record(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Key) != r.Event.Hash.String() {
		t.Fatalf("key = %q", rec.Key)
	}
	if rec.Topic != "events" {
		t.Fatalf("topic = %q", rec.Topic)
	}
	if string(rec.Headers[0].Value) != "AccessGranted" || string(rec.Headers[1].Value) != "12" {
		t.Fatalf("headers = %+v", rec.Headers)
	}

	var got feed.Record
	if err := json.Unmarshal(rec.Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Height != 12 || got.Event.Viewer != r.Event.Viewer {
		t.Fatalf("decoded = %+v", got)
	}

	r.Event = registry.Event{Type: registry.EventRoleGranted, Role: registry.RoleIssuer}
	rec, err = s.record(r)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Key != nil {
		t.Fatalf("role event keyed by %q", rec.Key)
	}
}

func TestEncodeProto(t *testing.T) {
	r := testRecord()
	b, err := encodeProto(r)
	if err != nil {
		t.Fatal(err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		t.Fatal(err)
	}
	m := st.AsMap()
	if m["type"] != "AccessGranted" || m["height"] != float64(12) || m["viewer"] != r.Event.Viewer.String() {
		t.Fatalf("struct = %v", m)
	}
	if m["key_blob"] != base64.StdEncoding.EncodeToString([]byte{0xde, 0xad}) {
		t.Fatalf("key_blob = %v", m["key_blob"])
	}
}
