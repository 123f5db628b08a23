package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "batchpilot"

// newRunRegistry builds a registry holding the metrics of a single run.
func newRunRegistry(s Summary) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	testCases := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "test_cases",
		Help:      "Test cases executed in the run, by status",
	}, []string{"project", "status"})
	steps := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "steps",
		Help:      "Steps logged in the run, by status",
	}, []string{"project", "status"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of the run",
	}, []string{"project"})
	lastRun := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the run finished",
	}, []string{"project"})

	registry.MustRegister(testCases, steps, duration, lastRun)

	testCases.WithLabelValues(s.Project, "pass").Set(float64(s.Passed))
	testCases.WithLabelValues(s.Project, "fail").Set(float64(s.Failed))

	byStatus := map[Status]int{}
	for _, tc := range s.TestCases {
		for _, step := range tc.Steps {
			byStatus[step.Status]++
		}
	}
	for _, st := range []Status{StatusPass, StatusFail, StatusInfo, StatusWarning, StatusSkip} {
		steps.WithLabelValues(s.Project, string(st)).Set(float64(byStatus[st]))
	}
	duration.WithLabelValues(s.Project).Set(s.Duration.Seconds())
	lastRun.WithLabelValues(s.Project).Set(float64(s.FinishedAt.Unix()))
	return registry
}

func writeMetrics(path string, s Summary) error {
	return prometheus.WriteToTextfile(path, newRunRegistry(s))
}
