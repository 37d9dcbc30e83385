package server

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/KohakuBlueleaf/DIG/internal/telemetry"
)

// dispatchMetrics counts protocol events. All instruments come from the
// global meter, which is a no-op unless telemetry is enabled.
type dispatchMetrics struct {
	submitted metric.Int64Counter
	claimed   metric.Int64Counter
	completed metric.Int64Counter
	reset     metric.Int64Counter
	conflicts metric.Int64Counter
}

func newDispatchMetrics() *dispatchMetrics {
	m := telemetry.Meter("github.com/KohakuBlueleaf/DIG/server")
	submitted, _ := m.Int64Counter("dig.tasks.submitted",
		metric.WithDescription("Tasks accepted via POST /request, including upserts"))
	claimed, _ := m.Int64Counter("dig.tasks.claimed",
		metric.WithDescription("Successful claims handed to workers"))
	completed, _ := m.Int64Counter("dig.tasks.completed",
		metric.WithDescription("Tasks completed with a stored artifact"))
	reset, _ := m.Int64Counter("dig.tasks.reset",
		metric.WithDescription("Tasks returned to pending via GET /reset"))
	conflicts, _ := m.Int64Counter("dig.claims.contended",
		metric.WithDescription("Claims lost to a concurrent worker"))
	return &dispatchMetrics{
		submitted: submitted,
		claimed:   claimed,
		completed: completed,
		reset:     reset,
		conflicts: conflicts,
	}
}
