package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/lambda-sizer/pkg/models"
)

func TestObserveInvocation(t *testing.T) {
	m := New()

	m.ObserveInvocation("resize", models.ExecutionLog{MemorySize: 128, Cost: 0.5, InitDuration: 10}, false)
	m.ObserveInvocation("resize", models.ExecutionLog{MemorySize: 128, Cost: 0.25}, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Invocations.WithLabelValues("resize", "128")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ColdStarts.WithLabelValues("resize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("resize")))
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.SamplingCost), 1e-12)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveInvocation("resize", models.ExecutionLog{}, false)
	m.ObserveFit(nil)
}

func TestExportTextfile(t *testing.T) {
	m := New()
	m.ObserveFit(nil)

	path := filepath.Join(t.TempDir(), "sizer.prom")
	require.NoError(t, m.Export(context.Background(), path, "", "lambda-sizer"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `lambda_sizer_fit_total{result="success"} 1`))
}
