package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
//
//	ctx, span := telemetry.StartSpan(ctx, "meshauth/services/iam", "iam.Renew",
//	    attribute.String(telemetry.AttrOwnerRef, owner),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Span attribute keys
const (
	AttrOwnerRef      = "session.owner_ref"
	AttrPrincipalKind = "principal.kind"
	AttrServiceID     = "principal.service_id"
	AttrRememberMe    = "session.remember_me"
)

// PrincipalAttributes tags a span with the authenticated caller. serviceID is
// omitted for end users.
func PrincipalAttributes(kind, serviceID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrPrincipalKind, kind)}
	if serviceID != "" {
		attrs = append(attrs, attribute.String(AttrServiceID, serviceID))
	}
	return attrs
}
