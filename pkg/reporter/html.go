package reporter

import (
	"fmt"
	"html/template"
	"io"
)

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Memory sizing - {{name .FunctionID}}</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background: #f5f7fa; color: #333; padding: 20px; }
        .container { max-width: 1000px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 8px rgba(0, 0, 0, 0.1); padding: 30px 40px; }
        h1 { margin-top: 0; }
        .cards { display: flex; gap: 16px; margin: 20px 0; }
        .card { flex: 1; background: #f8f9fa; border-radius: 6px; padding: 16px; }
        .card .value { font-size: 1.6em; font-weight: bold; color: #ff9900; }
        table { width: 100%; border-collapse: collapse; margin-top: 12px; }
        th, td { text-align: right; padding: 6px 10px; border-bottom: 1px solid #e8eaed; }
        th { background: #232f3e; color: white; }
        tr.selected { background: #fff4e0; font-weight: bold; }
        code { background: #f1f3f4; padding: 2px 6px; border-radius: 4px; }
    </style>
</head>
<body>
<div class="container">
    <h1>Memory sizing for {{name .FunctionID}}</h1>
    <p><strong>Function:</strong> {{.FunctionID}}</p>
    <p><strong>Generated:</strong> {{.GeneratedAt.Format "January 2, 2006 15:04:05 MST"}}</p>
    <p><strong>Model:</strong> <code>duration = {{printf "%.4f" .Params.T0}} &middot; e<sup>-{{printf "%.6f" .Params.DecayRate}} &middot; memory</sup> + {{printf "%.4f" .Params.TMin}}</code></p>

    <div class="cards">
        <div class="card"><div>Selected memory</div><div class="value">{{.Result.MemorySize}} MB</div></div>
        <div class="card"><div>Predicted duration</div><div class="value">{{printf "%.2f" .Result.Duration}} ms</div></div>
        <div class="card"><div>Predicted cost</div><div class="value">${{printf "%.10f" .Result.Cost}}</div></div>
        <div class="card"><div>Sampling cost</div><div class="value">${{printf "%.6f" .SamplingCost}}</div></div>
    </div>

    {{if .Averages}}
    <h2>Sampled</h2>
    <table>
        <tr><th>Memory (MB)</th><th>Duration (ms)</th><th>Billed (ms)</th><th>Cost ($)</th></tr>
        {{range .Averages}}
        <tr><td>{{.MemorySize}}</td><td>{{printf "%.2f" .Duration}}</td><td>{{printf "%.2f" .BilledDuration}}</td><td>{{printf "%.10f" .Cost}}</td></tr>
        {{end}}
    </table>
    {{end}}

    <h2>Predicted (weight {{printf "%.2f" .Weight}})</h2>
    <table>
        <tr><th>Memory (MB)</th><th>Duration (ms)</th><th>Billed (ms)</th><th>Cost ($)</th></tr>
        {{$selected := .Result.MemorySize}}
        {{range .Predictions}}
        <tr{{if eq .MemorySize $selected}} class="selected"{{end}}><td>{{.MemorySize}}</td><td>{{printf "%.2f" .Duration}}</td><td>{{printf "%.0f" .BilledDuration}}</td><td>{{printf "%.10f" .Cost}}</td></tr>
        {{end}}
    </table>
</div>
</body>
</html>
`

// GenerateHTML creates an HTML report
func GenerateHTML(report *Report, writer io.Writer) error {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"name": ResourceName,
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(writer, report); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}
