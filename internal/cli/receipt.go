package cli

import (
	"fmt"
	"time"

	"github.com/gezibash/arc-provenance/pkg/wire"
)

// ReceiptResult renders a committed transition with its height, caller and
// emitted event types.
func ReceiptResult(out *Output, resultType, message string, rc *wire.Receipt) *Result {
	r := out.Result(resultType, message).
		With("Height", rc.Height).
		With("Caller", rc.Caller).
		With("Timestamp", time.Unix(rc.Timestamp, 0).UTC().Format(time.RFC3339))
	for i, e := range rc.Events {
		r = r.With(fmt.Sprintf("Event %d", i), e.Type)
	}
	return r
}
