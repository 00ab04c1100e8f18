package bus

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

func TestNATSEnvelope(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		now := time.Unix(1700000000, 42)
		out := outgoing(context.Background(), "kestrel.recompute.requested", []byte(`{"scope":"risk"}`), now)

		if string(out.Data) != `{"scope":"risk"}` {
			t.Errorf("body should be the raw payload, got %s", out.Data)
		}
		if out.Header.Get(headerTraceID) != "" {
			t.Error("no trace id expected without an active span")
		}

		msg := incoming(out)
		if msg.ID != out.Header.Get(headerMsgID) || msg.ID == "" {
			t.Errorf("unexpected id %q", msg.ID)
		}
		if msg.Topic != "kestrel.recompute.requested" {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
		if msg.Timestamp != now.UnixNano() {
			t.Errorf("expected timestamp %d, got %d", now.UnixNano(), msg.Timestamp)
		}
		if len(msg.Metadata) != 0 {
			t.Errorf("envelope headers leaked into metadata: %v", msg.Metadata)
		}
	})

	t.Run("TraceIDPropagated", func(t *testing.T) {
		tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		msg := incoming(outgoing(ctx, "t", nil, time.Now()))
		if got := msg.Metadata[headerTraceID]; got != tid.String() {
			t.Errorf("expected trace id %s in metadata, got %q", tid, got)
		}
	})

	t.Run("ForeignPublisher", func(t *testing.T) {
		m := nats.NewMsg("kestrel.vendor.flagged")
		m.Data = []byte(`{}`)
		m.Header.Set("Source", "legacy")

		msg := incoming(m)
		if msg.ID == "" {
			t.Error("expected a generated id")
		}
		if msg.Metadata["Source"] != "legacy" {
			t.Errorf("expected Source metadata, got %v", msg.Metadata)
		}
	})
}
