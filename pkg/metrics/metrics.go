// Package metrics counts what a sizing run spent. The registry is private to
// the run and exported once at the end, to a node-exporter textfile and/or a
// Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/opscart/lambda-sizer/pkg/models"
)

const namespace = "lambda_sizer"

type Metrics struct {
	Registry *prometheus.Registry

	Invocations  *prometheus.CounterVec
	ColdStarts   *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	SamplingCost prometheus.Counter
	Fits         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Function invocations made while sampling.",
		}, []string{"function", "memory"}),
		ColdStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cold_starts_total",
			Help:      "Invocations discarded because they reported an init duration.",
		}, []string{"function"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocation_failures_total",
			Help:      "Invocations replaced by a worst-case measurement.",
		}, []string{"function"}),
		SamplingCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampling_cost_dollars_total",
			Help:      "Billed cost of all sampling invocations.",
		}),
		Fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fit_total",
			Help:      "Performance model fits by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(m.Invocations, m.ColdStarts, m.Failures, m.SamplingCost, m.Fits)
	return m
}

// ObserveInvocation records one invocation. A nil receiver is a no-op.
func (m *Metrics) ObserveInvocation(functionID string, log models.ExecutionLog, failed bool) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(functionID, strconv.Itoa(log.MemorySize)).Inc()
	m.SamplingCost.Add(log.Cost)
	if log.ColdStart() {
		m.ColdStarts.WithLabelValues(functionID).Inc()
	}
	if failed {
		m.Failures.WithLabelValues(functionID).Inc()
	}
}

// ObserveFit records the outcome of a curve fit. A nil receiver is a no-op.
func (m *Metrics) ObserveFit(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Fits.WithLabelValues(result).Inc()
}

// Export writes the registry to textfile and pushes it to pushgatewayURL;
// empty targets are skipped.
func (m *Metrics) Export(ctx context.Context, textfile, pushgatewayURL, job string) error {
	if textfile != "" {
		if err := prometheus.WriteToTextfile(textfile, m.Registry); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
	}
	if pushgatewayURL != "" {
		if err := push.New(pushgatewayURL, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
	}
	return nil
}
