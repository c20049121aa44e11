package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/pricing"
	"github.com/opscart/lambda-sizer/pkg/workflow"
)

var logHeader = []string{"Memory Size", "Init Duration", "Duration", "Billed Duration", "Cost"}

var runHeader = []string{"Duration", "Cost"}

// WriteLogsCSV writes execution logs with their cost to 10 decimal places
func WriteLogsCSV(writer io.Writer, logs []models.ExecutionLog) error {
	w := csv.NewWriter(writer)

	if err := w.Write(logHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, log := range logs {
		row := []string{
			strconv.Itoa(log.MemorySize),
			formatFloat(log.InitDuration),
			formatFloat(log.Duration),
			formatFloat(log.BilledDuration),
			fmt.Sprintf("%.10f", log.Cost),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// ReadLogsCSV reads logs written by WriteLogsCSV. Cost is recomputed from
// rates rather than parsed.
func ReadLogsCSV(reader io.Reader, rates pricing.Rates) ([]models.ExecutionLog, error) {
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"Memory Size", "Duration", "Billed Duration"} {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("CSV is missing column %q", name)
		}
	}

	var logs []models.ExecutionLog
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		field := func(name string) (float64, error) {
			i, ok := columns[name]
			if !ok || i >= len(record) || record[i] == "" {
				return 0, nil
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return 0, fmt.Errorf("line %d: invalid %s %q", line, name, record[i])
			}
			return v, nil
		}

		memory, err := field("Memory Size")
		if err != nil {
			return nil, err
		}
		initDuration, err := field("Init Duration")
		if err != nil {
			return nil, err
		}
		duration, err := field("Duration")
		if err != nil {
			return nil, err
		}
		billed, err := field("Billed Duration")
		if err != nil {
			return nil, err
		}
		logs = append(logs, rates.Log(duration, billed, int(memory), initDuration))
	}
	return logs, nil
}

// WriteRunsCSV writes workflow executions
func WriteRunsCSV(writer io.Writer, runs []workflow.ExecutionLog) error {
	w := csv.NewWriter(writer)

	if err := w.Write(runHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, run := range runs {
		if err := w.Write([]string{formatFloat(run.Duration), fmt.Sprintf("%.10f", run.Cost)}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
