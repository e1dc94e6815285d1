package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Standard attribute keys for Amaya spans.
var (
	AttrOwnerID    = attribute.Key("amaya.owner.id")
	AttrReminderID = attribute.Key("amaya.reminder.id")
	AttrRequestID  = attribute.Key("amaya.request.id")
	AttrChannel    = attribute.Key("amaya.channel")
	AttrModel      = attribute.Key("amaya.llm.model")
	AttrToolName   = attribute.Key("amaya.tool.name")
)

// Instruments bundles the tracer with Amaya's metric instruments. A nil
// *Instruments is valid and makes every method a no-op, so call sites never
// need to guard the optional telemetry dependency.
type Instruments struct {
	Tracer trace.Tracer

	RemindersFired  metric.Int64Counter
	EventsDrained   metric.Int64Counter
	MalformedEvents metric.Int64Counter
	MessagesSent    metric.Int64Counter
	LLMCallDuration metric.Float64Histogram
	ToolCallErrors  metric.Int64Counter
}

// NewInstruments creates all metric instruments from the given provider.
func NewInstruments(p *Provider) (*Instruments, error) {
	in := &Instruments{Tracer: p.Tracer}
	var err error

	in.RemindersFired, err = p.Meter.Int64Counter("amaya.reminders.fired",
		metric.WithDescription("Reminders fired and cleaned up"),
	)
	if err != nil {
		return nil, err
	}

	in.EventsDrained, err = p.Meter.Int64Counter("amaya.events.drained",
		metric.WithDescription("Event bus rows consumed as processed"),
	)
	if err != nil {
		return nil, err
	}

	in.MalformedEvents, err = p.Meter.Int64Counter("amaya.events.malformed",
		metric.WithDescription("Event bus rows quarantined as invalid"),
	)
	if err != nil {
		return nil, err
	}

	in.MessagesSent, err = p.Meter.Int64Counter("amaya.messages.sent",
		metric.WithDescription("Outbound channel messages delivered"),
	)
	if err != nil {
		return nil, err
	}

	in.LLMCallDuration, err = p.Meter.Float64Histogram("amaya.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	in.ToolCallErrors, err = p.Meter.Int64Counter("amaya.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	return in, nil
}

// StartSpan starts an internal span, or a no-op span when telemetry is off.
func (in *Instruments) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if in == nil || in.Tracer == nil {
		return nooptrace.NewTracerProvider().Tracer(TracerName).Start(ctx, name)
	}
	return in.Tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// AddReminderFired records one completed reminder fire.
func (in *Instruments) AddReminderFired(ctx context.Context) {
	if in == nil || in.RemindersFired == nil {
		return
	}
	in.RemindersFired.Add(ctx, 1)
}

// AddEventsDrained records bus rows consumed in a drain pass.
func (in *Instruments) AddEventsDrained(ctx context.Context, n int64) {
	if in == nil || in.EventsDrained == nil {
		return
	}
	in.EventsDrained.Add(ctx, n)
}

// AddMalformedEvents records bus rows quarantined in a drain pass.
func (in *Instruments) AddMalformedEvents(ctx context.Context, n int64) {
	if in == nil || in.MalformedEvents == nil {
		return
	}
	in.MalformedEvents.Add(ctx, n)
}

// AddMessageSent records one delivered outbound message.
func (in *Instruments) AddMessageSent(ctx context.Context) {
	if in == nil || in.MessagesSent == nil {
		return
	}
	in.MessagesSent.Add(ctx, 1)
}

// AddToolCallError records one failed tool invocation.
func (in *Instruments) AddToolCallError(ctx context.Context) {
	if in == nil || in.ToolCallErrors == nil {
		return
	}
	in.ToolCallErrors.Add(ctx, 1)
}

// RecordLLMDuration records an LLM call's wall-clock duration in seconds.
func (in *Instruments) RecordLLMDuration(ctx context.Context, seconds float64) {
	if in == nil || in.LLMCallDuration == nil {
		return
	}
	in.LLMCallDuration.Record(ctx, seconds)
}
