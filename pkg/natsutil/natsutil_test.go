package natsutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{Subject: "test"}
	c := (*natsHeaderCarrier)(msg)

	if c.Get("traceparent") != "" {
		t.Error("empty carrier should return empty values")
	}
	if c.Keys() != nil {
		t.Error("empty carrier should have no keys")
	}

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get = %q", got)
	}
	if len(c.Keys()) != 1 {
		t.Errorf("Keys = %v", c.Keys())
	}
	if msg.Header.Get("traceparent") == "" {
		t.Error("set should write through to the message header")
	}
}

type testEvent struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
}

func TestMsgHandler_DecodesAndExtractsTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	data, _ := json.Marshal(testEvent{Source: "corpus.txt", Line: 7})
	msg := &nats.Msg{
		Subject: "test",
		Data:    data,
		Header: nats.Header{
			"Traceparent": []string{"00-" + traceID + "-00f067aa0ba902b7-01"},
		},
	}

	var got testEvent
	var gotTrace trace.SpanContext
	called := 0
	msgHandler(func(ctx context.Context, ev testEvent) {
		called++
		got = ev
		gotTrace = trace.SpanContextFromContext(ctx)
	})(msg)

	if called != 1 {
		t.Fatalf("handler called %d times, want 1", called)
	}
	if got.Source != "corpus.txt" || got.Line != 7 {
		t.Errorf("decoded = %+v", got)
	}
	if !gotTrace.IsValid() {
		t.Fatal("trace context not extracted from message headers")
	}
	if gotTrace.TraceID().String() != traceID {
		t.Errorf("trace id = %s, want %s", gotTrace.TraceID(), traceID)
	}
}

func TestMsgHandler_DropsMalformedPayload(t *testing.T) {
	called := 0
	msgHandler(func(context.Context, testEvent) { called++ })(&nats.Msg{
		Subject: "test",
		Data:    []byte("{not json"),
	})
	if called != 0 {
		t.Errorf("handler called %d times for malformed payload, want 0", called)
	}
}
