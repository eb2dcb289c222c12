package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warriorguo/dagflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/warriorguo/dagflow/runtime")

var (
	runningRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dagflow",
		Name:      "running_runs",
		Help:      "Number of runs not terminal yet.",
	})
	runResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagflow",
		Name:      "run_results_total",
		Help:      "Finished runs by dag and final status.",
	}, []string{"dag", "status"})
	nodeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagflow",
		Name:      "node_results_total",
		Help:      "Started nodes by dag and final status.",
	}, []string{"dag", "status"})
	nodeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagflow",
		Name:      "node_retries_total",
		Help:      "Scheduled node retries by dag.",
	}, []string{"dag"})
	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dagflow",
		Name:      "node_duration_seconds",
		Help:      "Wall time of started nodes, all attempts included.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"dag", "node"})
)

func endNodeSpan(span trace.Span, status types.StatusType, err error) {
	if err != nil {
		span.RecordError(err)
	}
	if status == types.Succeeded {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, status.String())
	}
	span.End()
}
