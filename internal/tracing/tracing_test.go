package tracing

import (
	"context"
	"net/http"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseTraceparent(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		valid bool
	}{
		{"valid", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", true},
		{"wrong version", "01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", false},
		{"too few parts", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7", false},
		{"bad flags", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-zz", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			traceID, spanID, flags, valid := ParseTraceparent(tc.in)
			if valid != tc.valid {
				t.Fatalf("valid = %v, want %v", valid, tc.valid)
			}
			if !tc.valid {
				return
			}
			if traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
				t.Errorf("traceID = %q", traceID)
			}
			if spanID != "00f067aa0ba902b7" {
				t.Errorf("spanID = %q", spanID)
			}
			if flags != 1 {
				t.Errorf("flags = %d, want 1", flags)
			}
		})
	}
}

func TestTraceparentRoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	header := W3CTraceparent(ctx)
	if header == "" {
		t.Fatal("expected traceparent for active span")
	}

	traceID, spanID, _, valid := ParseTraceparent(header)
	if !valid {
		t.Fatalf("generated header %q did not parse", header)
	}
	sc := span.SpanContext()
	if traceID != sc.TraceID().String() {
		t.Errorf("traceID = %q, want %q", traceID, sc.TraceID().String())
	}
	if spanID != sc.SpanID().String() {
		t.Errorf("spanID = %q, want %q", spanID, sc.SpanID().String())
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	InjectTraceparent(ctx, req)
	if req.Header.Get("traceparent") != header {
		t.Errorf("injected header = %q, want %q", req.Header.Get("traceparent"), header)
	}
}

func TestInjectTraceparentWithoutSpan(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	InjectTraceparent(context.Background(), req)
	if got := req.Header.Get("traceparent"); got != "" {
		t.Errorf("expected no header, got %q", got)
	}
}

func TestStartSpanBeforeInitialize(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "early")
	defer span.End()
	if ctx == nil || span == nil {
		t.Fatal("expected usable span before Initialize")
	}
}
