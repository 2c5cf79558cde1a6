package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineCollectors groups the collectors exported by the release pipeline.
type PipelineCollectors struct {
	StageOutcomes *prometheus.CounterVec
	RunStatuses   *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	RunsInFlight  prometheus.Gauge
}

// NewPipelineCollectors creates the pipeline collectors.
func NewPipelineCollectors() *PipelineCollectors {
	return &PipelineCollectors{
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relgate",
			Name:      "stage_outcomes_total",
			Help:      "Stage outcomes by stage name and outcome.",
		}, []string{"stage", "outcome"}),
		RunStatuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relgate",
			Name:      "run_statuses_total",
			Help:      "Terminal pipeline run statuses.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relgate",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relgate",
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs currently executing.",
		}),
	}
}

// Register registers all pipeline collectors on the given server.
func (pc *PipelineCollectors) Register(s *Server) error {
	for _, c := range []prometheus.Collector{
		pc.StageOutcomes, pc.RunStatuses, pc.RunDuration, pc.RunsInFlight,
	} {
		if err := s.RegisterCollector(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveStage records one stage outcome.
func (pc *PipelineCollectors) ObserveStage(stage, outcome string) {
	pc.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// ObserveRun records one terminal run status with its duration.
func (pc *PipelineCollectors) ObserveRun(status string, d time.Duration) {
	pc.RunStatuses.WithLabelValues(status).Inc()
	pc.RunDuration.Observe(d.Seconds())
}
