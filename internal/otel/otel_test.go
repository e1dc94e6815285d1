package otel

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil {
		t.Fatal("expected non-nil tracer (noop)")
	}
	if p.Meter == nil {
		t.Fatal("expected non-nil meter (noop)")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil {
		t.Fatal("expected non-nil TracerProvider")
	}
	if p.Tracer == nil {
		t.Fatal("expected non-nil Tracer")
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "magic-pixie-dust",
	})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNewInstruments(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	in, err := NewInstruments(p)
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}

	ctx := context.Background()
	in.AddReminderFired(ctx)
	in.AddEventsDrained(ctx, 3)
	in.AddMalformedEvents(ctx, 1)
	in.AddMessageSent(ctx)
	in.AddToolCallError(ctx)
	in.RecordLLMDuration(ctx, 0.42)

	spanCtx, span := in.StartSpan(ctx, "test.span", AttrOwnerID.String("000001"))
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
	_ = spanCtx
}

func TestNilInstrumentsAreNoops(t *testing.T) {
	var in *Instruments
	ctx := context.Background()

	in.AddReminderFired(ctx)
	in.AddEventsDrained(ctx, 5)
	in.AddMalformedEvents(ctx, 5)
	in.AddMessageSent(ctx)
	in.AddToolCallError(ctx)
	in.RecordLLMDuration(ctx, 1.0)

	_, span := in.StartSpan(ctx, "nil.span")
	if span == nil {
		t.Fatal("expected a usable no-op span from nil instruments")
	}
	span.End()
}
