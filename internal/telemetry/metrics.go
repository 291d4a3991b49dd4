// Package telemetry provides OpenTelemetry metrics and tracing for the
// realtime service.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Ingress metrics track events arriving from the HTTP layer's queue.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	EventsConsumedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.ingress.consumed",
		"Domain events consumed from the ingress queue",
	)

	EventsDroppedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.ingress.dropped",
		"Malformed ingress payloads dropped",
	)

	EventsRetriedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.ingress.retried",
		"Ingress events returned for redelivery after dependency failures",
	)

	DeliveryLatencyHistogram = telemetry.LatencyMeasure(
		"realtime.delivery",
	)
)
