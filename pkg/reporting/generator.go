package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"scenecraft/pkg/stats"
)

// ReportConfig configures report generation
type ReportConfig struct {
	OutputDir  string   `json:"output_dir"`
	ReportName string   `json:"report_name"`
	Format     []string `json:"format"` // markdown, json, yaml
	Timestamp  bool     `json:"timestamp"`
}

// DefaultReportConfig returns sensible defaults
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		OutputDir:  "./reports",
		ReportName: "pipeline-run",
		Format:     []string{"markdown", "json"},
		Timestamp:  true,
	}
}

// SceneReport is one row of the scene table
type SceneReport struct {
	SceneNumber int    `json:"scene_number" yaml:"scene_number"`
	Status      string `json:"status" yaml:"status"`
	Attempts    int    `json:"attempts" yaml:"attempts"`
	ClipURL     string `json:"clip_url,omitempty" yaml:"clip_url,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StageReport records how long a stage took
type StageReport struct {
	Name     string `json:"name" yaml:"name"`
	Duration string `json:"duration" yaml:"duration"`
}

// ReportData contains all data for report generation
type ReportData struct {
	GeneratedAt   time.Time               `json:"generated_at" yaml:"generated_at"`
	ReportName    string                  `json:"report_name" yaml:"report_name"`
	ProjectID     string                  `json:"project_id" yaml:"project_id"`
	Status        string                  `json:"status" yaml:"status"`
	FinalVideoURL string                  `json:"final_video_url,omitempty" yaml:"final_video_url,omitempty"`
	Error         string                  `json:"error,omitempty" yaml:"error,omitempty"`
	Duration      string                  `json:"duration" yaml:"duration"`
	Stages        []StageReport           `json:"stages" yaml:"stages"`
	Scenes        []SceneReport           `json:"scenes" yaml:"scenes"`
	Stats         *stats.CollectorSummary `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// Generator handles report generation
type Generator struct {
	logger *zap.Logger
}

// NewGenerator creates a new report generator
func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{
		logger: logger,
	}
}

// GenerateReport writes the report in every requested format and returns the
// written paths
func (g *Generator) GenerateReport(data ReportData, config ReportConfig) ([]string, error) {
	g.logger.Info("Generating report",
		zap.String("name", config.ReportName),
		zap.Strings("formats", config.Format),
		zap.String("output_dir", config.OutputDir))

	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now().UTC()
	}
	if data.ReportName == "" {
		data.ReportName = config.ReportName
	}

	reportName := config.ReportName
	if config.Timestamp {
		reportName = fmt.Sprintf("%s-%s", config.ReportName, data.GeneratedAt.Format("20060102-150405"))
	}

	var written []string
	for _, format := range config.Format {
		var (
			content []byte
			ext     string
			err     error
		)
		switch strings.ToLower(format) {
		case "markdown", "md":
			content, err = renderMarkdown(data)
			ext = ".md"
		case "json":
			content, err = json.MarshalIndent(data, "", "  ")
			ext = ".json"
		case "yaml", "yml":
			content, err = yaml.Marshal(data)
			ext = ".yaml"
		default:
			g.logger.Warn("Unknown report format", zap.String("format", format))
			continue
		}
		if err != nil {
			return written, fmt.Errorf("failed to render %s report: %w", format, err)
		}

		outputPath := filepath.Join(config.OutputDir, reportName+ext)
		if err := os.WriteFile(outputPath, content, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s report: %w", format, err)
		}
		written = append(written, outputPath)
		g.logger.Debug("Generated report", zap.String("path", outputPath))
	}

	g.logger.Info("Report generation completed",
		zap.String("name", reportName),
		zap.Int("files", len(written)))

	return written, nil
}

const markdownTemplate = `# {{.ReportName}}

**Generated:** {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}

- **Project:** {{.ProjectID}}
- **Status:** {{.Status}}
- **Duration:** {{.Duration}}
{{- if .FinalVideoURL}}
- **Final video:** {{.FinalVideoURL}}
{{- end}}
{{- if .Error}}
- **Error:** {{.Error}}
{{- end}}

## Stages

| Stage | Duration |
|-------|----------|
{{- range .Stages}}
| {{.Name}} | {{.Duration}} |
{{- end}}

## Scenes

| # | Status | Attempts | Error |
|---|--------|----------|-------|
{{- range .Scenes}}
| {{.SceneNumber}} | {{.Status}} | {{.Attempts}} | {{escape .Error}} |
{{- end}}
{{- with .Stats}}

## Provider Calls

- **Attempts:** {{.Attempts}}
- **Retries:** {{.Retries}}
- **Failures:** {{.Failures}}

| Operation | Count | Mean (ms) | Min (ms) | Max (ms) |
|-----------|-------|-----------|----------|----------|
{{- range .Operations}}
| {{.Operation}} | {{.Count}} | {{printf "%.0f" .Mean}} | {{printf "%.0f" .Min}} | {{printf "%.0f" .Max}} |
{{- end}}
{{- if .Errors}}

### Failures by kind
{{range $kind, $count := .Errors}}
- **{{$kind}}:** {{$count}}
{{- end}}
{{- end}}
{{- end}}
`

func renderMarkdown(data ReportData) ([]byte, error) {
	t, err := template.New("report").Funcs(template.FuncMap{
		"escape": func(s string) string { return strings.ReplaceAll(s, "|", `\|`) },
	}).Parse(markdownTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse markdown template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute markdown template: %w", err)
	}
	return buf.Bytes(), nil
}
