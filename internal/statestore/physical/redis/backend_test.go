package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/gezibash/arc-provenance/internal/storage"
)

func TestFactoryConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]string
		field  string
	}{
		{"missing addr", map[string]string{KeyAddr: ""}, KeyAddr},
		{"bad db", map[string]string{KeyAddr: "localhost:1", KeyDB: "x"}, KeyDB},
		{"negative db", map[string]string{KeyAddr: "localhost:1", KeyDB: "-1"}, KeyDB},
		{"bad timeout", map[string]string{KeyAddr: "localhost:1", KeyDialTimeout: "later"}, KeyDialTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(context.Background(), tt.config)
			var cfgErr *storage.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Fatalf("field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestKeyLayout(t *testing.T) {
	b := NewWithClient(nil, "")
	if got := b.valueKey([]byte("doc/0x01")); got != "provenance:kv:doc/0x01" {
		t.Fatalf("valueKey = %q", got)
	}
	if got := b.indexKey(); got != "provenance:idx" {
		t.Fatalf("indexKey = %q", got)
	}
}
