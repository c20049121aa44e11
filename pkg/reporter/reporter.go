package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/sizer"
)

// ReportFormat represents the output format
type ReportFormat string

const (
	FormatText ReportFormat = "text"
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
	FormatHTML ReportFormat = "html"
)

// ParseFormat validates a format name
func ParseFormat(name string) (ReportFormat, error) {
	switch f := ReportFormat(name); f {
	case FormatText, FormatJSON, FormatCSV, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", name)
}

// Report contains all data for rendering one tuning outcome
type Report struct {
	FunctionID   string
	GeneratedAt  time.Time
	Weight       float64
	Result       models.SizingResult
	Params       models.ModelParams
	Averages     []models.ExecutionLog
	Predictions  []models.ExecutionLog
	SamplingCost float64
}

// Reporter renders tuning, workflow and history results
type Reporter struct {
	format ReportFormat
}

// New creates a new reporter
func New(format ReportFormat) *Reporter {
	return &Reporter{format: format}
}

// Generate builds a report from a tuning outcome
func (r *Reporter) Generate(tuned *sizer.Report, weight float64) *Report {
	return &Report{
		FunctionID:   tuned.FunctionID,
		GeneratedAt:  time.Now(),
		Weight:       weight,
		Result:       tuned.Result,
		Params:       tuned.Params,
		Averages:     tuned.Averages,
		Predictions:  tuned.Predictions,
		SamplingCost: tuned.SamplingCost,
	}
}

type tuningJSON struct {
	FunctionID   string             `json:"arn"`
	MemorySize   int                `json:"memorySize"`
	Cost         float64            `json:"cost"`
	Duration     float64            `json:"duration"`
	SamplingCost float64            `json:"total_cost"`
	Params       models.ModelParams `json:"model"`
}

// Write renders report in the reporter's format
func (r *Reporter) Write(w io.Writer, report *Report) error {
	switch r.format {
	case FormatJSON:
		return writeJSON(w, tuningJSON{
			FunctionID:   report.FunctionID,
			MemorySize:   report.Result.MemorySize,
			Cost:         report.Result.Cost,
			Duration:     report.Result.Duration,
			SamplingCost: report.SamplingCost,
			Params:       report.Params,
		})
	case FormatCSV:
		return WriteLogsCSV(w, report.Predictions)
	case FormatHTML:
		return GenerateHTML(report, w)
	}

	fmt.Fprintf(w, "Function:      %s\n", report.FunctionID)
	fmt.Fprintf(w, "Model:         %.4f * e^(-%.6f * memory) + %.4f\n", report.Params.T0, report.Params.DecayRate, report.Params.TMin)
	fmt.Fprintf(w, "Weight:        %.2f\n", report.Weight)
	fmt.Fprintf(w, "Memory size:   %d MB\n", report.Result.MemorySize)
	fmt.Fprintf(w, "Duration:      %.2f ms\n", report.Result.Duration)
	fmt.Fprintf(w, "Cost:          $%.10f\n", report.Result.Cost)
	fmt.Fprintf(w, "Sampling cost: $%.10f\n", report.SamplingCost)
	return nil
}

// WriteWorkflow renders a workflow optimization result
func (r *Reporter) WriteWorkflow(w io.Writer, result *models.WorkflowResult) error {
	if r.format == FormatJSON {
		return writeJSON(w, result)
	}

	fmt.Fprintf(w, "Workflow: %s (%s)\n", result.WorkflowID, result.Mode)
	fmt.Fprintf(w, "Latency:  %.2f ms\n", result.Latency)
	fmt.Fprintf(w, "Cost:     $%.10f\n", result.Cost)
	if result.Constraint != "" {
		fmt.Fprintf(w, "Limit:    %s < %g\n", result.Constraint, result.Limit)
	}
	if result.OverLimit {
		fmt.Fprintf(w, "Note: the solver kept %s at %g, but rounding sizes up and per-request charges put the billed value over the limit\n",
			result.Constraint, result.SolverValue)
	}
	fmt.Fprintln(w)

	ids := make([]string, 0, len(result.Sizes))
	for id := range result.Sizes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tMEMORY (MB)")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%d\n", id, result.Sizes[id])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, id := range result.Skipped {
		fmt.Fprintf(w, "No model for %s, skipped\n", id)
	}
	return nil
}

// WriteHistory renders past sampling runs, newest first
func (r *Reporter) WriteHistory(w io.Writer, runs []*models.SamplingRun) error {
	if r.format == FormatJSON {
		return writeJSON(w, runs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tID\tSIZES SAMPLED\tSAMPLING COST\tSELECTED (MB)")
	for _, run := range runs {
		selected := "-"
		if run.Result != nil {
			selected = fmt.Sprintf("%d", run.Result.MemorySize)
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t$%.10f\t%s\n",
			run.CreatedAt.Format(time.RFC3339), run.ID, run.MemorySizes, run.SamplingCost, selected)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
