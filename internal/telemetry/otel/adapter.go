package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"m-taji/platform/internal/audit/domain"
)

const instrumentationName = "m-taji/platform/audit"

// recordEmitter is the subset of otellog.Logger used here; tests capture records through it.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditEmitter mirrors audit entries as OTel log records and counts them per action.
type AuditEmitter struct {
	logger recordEmitter
	events metric.Int64Counter
}

// NewAuditEmitter returns an emitter writing to provider and counting with meters. Either may be nil.
func NewAuditEmitter(provider *sdklog.LoggerProvider, meters metric.MeterProvider) (*AuditEmitter, error) {
	var logger recordEmitter
	if provider != nil {
		logger = provider.Logger(instrumentationName)
	}
	if meters == nil {
		meters = noop.NewMeterProvider()
	}
	return newAuditEmitter(logger, meters.Meter(instrumentationName))
}

func newAuditEmitter(logger recordEmitter, meter metric.Meter) (*AuditEmitter, error) {
	events, err := meter.Int64Counter("mtaji.auth.events",
		metric.WithDescription("Auth and profile events recorded in the audit trail."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	return &AuditEmitter{logger: logger, events: events}, nil
}

// Emit converts the entry to a log record and increments the counter. Best-effort.
func (e *AuditEmitter) Emit(ctx context.Context, entry *domain.AuditLog) {
	if entry == nil {
		return
	}
	e.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", entry.Action),
		attribute.String("resource", entry.Resource),
	))
	if e.logger == nil {
		return
	}
	rec := otellog.Record{}
	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(entry.Action + " " + entry.Resource))
	rec.AddAttributes(
		otellog.String("audit_id", entry.ID),
		otellog.String("action", entry.Action),
		otellog.String("resource", entry.Resource),
	)
	if entry.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", entry.UserID))
	}
	if entry.IP != "" {
		rec.AddAttributes(otellog.String("ip", entry.IP))
	}
	if entry.Metadata != "" {
		rec.AddAttributes(otellog.String("metadata", entry.Metadata))
	}
	e.logger.Emit(ctx, rec)
}
