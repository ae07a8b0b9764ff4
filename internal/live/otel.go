package live

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/transitlive/livemap/internal/live"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
