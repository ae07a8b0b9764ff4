package reconcile

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/transitlive/livemap/internal/reconcile"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	rejected metric.Int64Counter
	created  metric.Int64Counter
	removed  metric.Int64Counter
	moved    metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)
	out.rejected, err = m.Int64Counter("reconcile.records.rejected",
		metric.WithDescription("Records dropped before reconciliation"))
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	out.created, err = m.Int64Counter("reconcile.vehicles.created",
		metric.WithDescription("Vehicles seen for the first time"))
	if err != nil {
		return nil, fmt.Errorf("creating created counter: %w", err)
	}
	out.removed, err = m.Int64Counter("reconcile.vehicles.removed",
		metric.WithDescription("Vehicles dropped from tracking"))
	if err != nil {
		return nil, fmt.Errorf("creating removed counter: %w", err)
	}
	out.moved, err = m.Int64Counter("reconcile.markers.moved",
		metric.WithDescription("Move instructions emitted"))
	if err != nil {
		return nil, fmt.Errorf("creating moved counter: %w", err)
	}
	return &out, nil
}
