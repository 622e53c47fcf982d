package postgres

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
		{"missing dsn", map[string]string{}, KeyDSN},
		{"bad table", map[string]string{KeyDSN: "postgres://x", KeyTable: "kv; DROP TABLE x"}, KeyTable},
		{"upper table", map[string]string{KeyDSN: "postgres://x", KeyTable: "KV"}, KeyTable},
		{"bad max conns", map[string]string{KeyDSN: "postgres://x", KeyMaxConns: "many"}, KeyMaxConns},
		{"zero max conns", map[string]string{KeyDSN: "postgres://x", KeyMaxConns: "0"}, KeyMaxConns},
		{"bad dsn", map[string]string{KeyDSN: "postgres://%zz"}, KeyDSN},
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
