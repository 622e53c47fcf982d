package feed

import (
	"github.com/gezibash/arc-provenance/internal/registry"
)

// Record is one event of a committed transition together with its position
// in the commit order.
type Record struct {
	Height    uint64         `json:"height"`
	Timestamp int64          `json:"timestamp"`
	Op        registry.Op    `json:"op"`
	Index     int            `json:"index"`
	Event     registry.Event `json:"event"`
}

// filterKeys are the attribute names a subscription filter may reference.
var filterKeys = []string{
	"type", "role", "account", "caller", "owner", "hash", "pointer", "viewer",
	"height", "timestamp", "op",
}

// Attributes returns the event attributes plus height, timestamp and op.
func (r Record) Attributes() map[string]any {
	attrs := r.Event.Attributes()
	attrs["height"] = int64(r.Height)
	attrs["timestamp"] = r.Timestamp
	attrs["op"] = string(r.Op)
	return attrs
}

// Records expands a receipt into one record per event.
func Records(rc registry.Receipt) []Record {
	out := make([]Record, len(rc.Events))
	for i, ev := range rc.Events {
		out[i] = Record{
			Height:    rc.Height,
			Timestamp: rc.Timestamp,
			Op:        rc.Op,
			Index:     i,
			Event:     ev,
		}
	}
	return out
}
