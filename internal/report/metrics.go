package report

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"cubeopt/internal/results"
)

const metricsNamespace = "cubeopt"

// Registry returns a registry holding the run's gauges, labelled by cube.
func Registry(set *results.ResultSet) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	queryTime := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "query_seconds",
		Help:      "Mean query time of the original and the best dimension order.",
	}, []string{"cube", "order"})
	ram := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "ram_bytes",
		Help:      "Memory used by the cube with the original and the best dimension order.",
	}, []string{"cube", "order"})
	candidates := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "candidates_measured",
		Help:      "Candidate orders measured in the last run.",
	}, []string{"cube"})
	failed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "candidates_failed",
		Help:      "Candidate orders that could not be measured in the last run.",
	}, []string{"cube"})
	improves := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "best_improves",
		Help:      "1 when the best order beats the original order.",
	}, []string{"cube"})
	aborted := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_aborted",
		Help:      "1 when the last run stopped before all candidates were measured.",
	}, []string{"cube"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run.",
	}, []string{"cube"})
	reg.MustRegister(queryTime, ram, candidates, failed, improves, aborted, duration)

	cube := set.Cube
	if b := set.Baseline(); b != nil {
		queryTime.WithLabelValues(cube, "original").Set(b.MeanQueryTime.Seconds())
		ram.WithLabelValues(cube, "original").Set(float64(b.RAMBytes))
	}
	if b := set.Best(); b != nil {
		queryTime.WithLabelValues(cube, "best").Set(b.MeanQueryTime.Seconds())
		ram.WithLabelValues(cube, "best").Set(float64(b.RAMBytes))
	}
	measured := set.Len()
	if set.Baseline() != nil {
		measured--
	}
	candidates.WithLabelValues(cube).Set(float64(measured))
	failed.WithLabelValues(cube).Set(float64(len(set.Failed())))
	improves.WithLabelValues(cube).Set(boolGauge(set.BestImproves()))
	aborted.WithLabelValues(cube).Set(boolGauge(set.AbortErr() != nil))
	if !set.FinishedAt.IsZero() {
		duration.WithLabelValues(cube).Set(set.FinishedAt.Sub(set.StartedAt).Seconds())
	}
	return reg
}

// WriteMetrics writes the run's gauges in the Prometheus text format.
func WriteMetrics(w io.Writer, set *results.ResultSet) error {
	families, err := Registry(set).Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile writes the gauges to path atomically, for the node exporter
// textfile collector.
func WriteTextfile(path string, set *results.ResultSet) error {
	return prometheus.WriteToTextfile(path, Registry(set))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
