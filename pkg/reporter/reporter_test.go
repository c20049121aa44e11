package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/pricing"
	"github.com/opscart/lambda-sizer/pkg/workflow"
)

const arn = "arn:aws:lambda:us-east-1:123456789012:function:resize"

func TestWriteLogsCSV(t *testing.T) {
	rates := pricing.DefaultRates()
	logs := []models.ExecutionLog{
		rates.Log(812.5, 813, 128, 0),
		rates.Log(101.25, 102, 1024, 230.4),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLogsCSV(&buf, logs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Memory Size,Init Duration,Duration,Billed Duration,Cost", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "128,0,812.5,813,"), lines[1])
	cost := strings.Split(lines[1], ",")[4]
	assert.Len(t, strings.Split(cost, ".")[1], 10, "cost has 10 decimals")

	read, err := ReadLogsCSV(&buf, rates)
	require.NoError(t, err)
	assert.Equal(t, logs, read)
}

func TestReadLogsCSVErrors(t *testing.T) {
	_, err := ReadLogsCSV(strings.NewReader("Duration,Cost\n1,2\n"), pricing.DefaultRates())
	assert.Error(t, err)

	_, err = ReadLogsCSV(strings.NewReader("Memory Size,Duration,Billed Duration\n128,abc,1\n"), pricing.DefaultRates())
	assert.Error(t, err)
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "resize", ResourceName(arn))
	assert.Equal(t, "resize", ResourceName(arn+":512MB"))
	assert.Equal(t, "pipeline", ResourceName("arn:aws:states:us-east-1:123456789012:stateMachine:pipeline"))
	assert.Equal(t, "local_fn", ResourceName("local/fn"))
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	ctx := context.Background()

	logs := []models.ExecutionLog{pricing.DefaultRates().Log(100, 100, 256, 0)}
	require.NoError(t, sink.SaveLogs(ctx, arn, "avg", logs))
	require.NoError(t, sink.SaveRuns(ctx, "arn:aws:states:us-east-1:123456789012:stateMachine:pipeline", "raw",
		[]workflow.ExecutionLog{{Duration: 420, Cost: 0.0001}}))

	data, err := os.ReadFile(filepath.Join(dir, "resize", "avg.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Memory Size,"))

	data, err = os.ReadFile(filepath.Join(dir, "pipeline", "raw.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Duration,Cost\n420,0.0001000000\n", string(data))
}

type failingSink struct{}

func (failingSink) SaveLogs(ctx context.Context, functionID, name string, logs []models.ExecutionLog) error {
	return assert.AnError
}

func (failingSink) SaveRuns(ctx context.Context, stateMachineID, name string, runs []workflow.ExecutionLog) error {
	return assert.AnError
}

func TestMultiSinkWritesEverywhere(t *testing.T) {
	dir := t.TempDir()
	sink := MultiSink{failingSink{}, NewFileSink(dir)}

	err := sink.SaveLogs(context.Background(), arn, "avg", nil)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "resize", "avg.csv"))
}

func testReport() *Report {
	rates := pricing.DefaultRates()
	return &Report{
		FunctionID:   arn,
		Weight:       0.5,
		Result:       models.SizingResult{MemorySize: 512, Cost: 0.0000021, Duration: 180.5},
		Params:       models.ModelParams{T0: 900, DecayRate: 0.002, TMin: 120},
		Averages:     []models.ExecutionLog{rates.Log(800, 800, 128, 0)},
		Predictions:  []models.ExecutionLog{rates.Log(820, 820, 128, 0), rates.Log(180.5, 181, 512, 0)},
		SamplingCost: 0.0003,
	}
}

func TestReporterJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(FormatJSON).Write(&buf, testReport()))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, arn, decoded["arn"])
	assert.Equal(t, 512.0, decoded["memorySize"])
	assert.Equal(t, []interface{}{900.0, 0.002, 120.0}, decoded["model"])
}

func TestReporterText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(FormatText).Write(&buf, testReport()))
	assert.Contains(t, buf.String(), "Memory size:   512 MB")
}

func TestGenerateHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GenerateHTML(testReport(), &buf))
	html := buf.String()
	assert.Contains(t, html, "Memory sizing for resize")
	assert.Contains(t, html, `class="selected"`)
}

func TestWriteWorkflow(t *testing.T) {
	result := &models.WorkflowResult{
		WorkflowID: "arn:aws:states:us-east-1:123456789012:stateMachine:pipeline",
		Mode:       "branching",
		Sizes:      map[string]int{arn: 1024},
		Latency:    430,
		Cost:       0.0002,
		Skipped:    []string{"arn:aws:lambda:us-east-1:123456789012:function:detect"},
	}

	var buf bytes.Buffer
	require.NoError(t, New(FormatText).WriteWorkflow(&buf, result))
	assert.Contains(t, buf.String(), "branching")
	assert.Contains(t, buf.String(), "No model for arn:aws:lambda:us-east-1:123456789012:function:detect")

	buf.Reset()
	require.NoError(t, New(FormatJSON).WriteWorkflow(&buf, result))
	assert.Contains(t, buf.String(), `"elat": 430`)
}

func TestWriteWorkflowOverLimit(t *testing.T) {
	result := &models.WorkflowResult{
		WorkflowID:  "arn:aws:states:us-east-1:123456789012:stateMachine:etl",
		Mode:        "chain",
		Sizes:       map[string]int{arn: 128},
		Latency:     2100,
		Cost:        0.0000804,
		Constraint:  "cost",
		Limit:       0.00008,
		SolverValue: 0.0000799,
		OverLimit:   true,
	}

	var buf bytes.Buffer
	require.NoError(t, New(FormatText).WriteWorkflow(&buf, result))
	assert.Contains(t, buf.String(), "Limit:    cost < 8e-05")
	assert.Contains(t, buf.String(), "solver kept cost at 7.99e-05")

	buf.Reset()
	require.NoError(t, New(FormatJSON).WriteWorkflow(&buf, result))
	assert.Contains(t, buf.String(), `"over_limit": true`)

	result.OverLimit = false
	buf.Reset()
	require.NoError(t, New(FormatText).WriteWorkflow(&buf, result))
	assert.NotContains(t, buf.String(), "solver kept")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("html")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, f)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}
