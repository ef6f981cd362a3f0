package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scenecraft/internal/orchestrator"
	"scenecraft/pkg/reporting"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <project-id>",
		Short: "Run the full pipeline for one project in the foreground",
		Long: `Run plan, assets, scenes, stitch, audio and finalize for a stored project
and write a run report. Scenes that already have clips are reused.`,
		Args: cobra.ExactArgs(1),
		RunE: runPipeline,
	}

	defaults := reporting.DefaultReportConfig()
	cmd.Flags().String("report-dir", defaults.OutputDir, "Directory for the run report")
	cmd.Flags().StringSlice("format", defaults.Format, "Report formats (markdown, json, yaml)")
	cmd.Flags().Bool("no-report", false, "Do not write a run report")

	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger, err := loggerFrom(ctx)
	if err != nil {
		return err
	}
	projectID := args[0]

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.coordinator.ResetCancel(ctx, projectID); err != nil {
		return err
	}
	result, runErr := a.coordinator.RunPipeline(ctx, projectID)
	if result == nil {
		return runErr
	}

	printSummary(result)

	if noReport, _ := cmd.Flags().GetBool("no-report"); !noReport {
		reportCfg := reporting.DefaultReportConfig()
		reportCfg.OutputDir, _ = cmd.Flags().GetString("report-dir")
		reportCfg.Format, _ = cmd.Flags().GetStringSlice("format")
		reportCfg.ReportName = "run-" + projectID

		files, err := reporting.NewGenerator(logger).GenerateReport(reportData(result, reportCfg.ReportName), reportCfg)
		if err != nil {
			logger.Warn("Failed to write run report", zap.Error(err))
		}
		for _, f := range files {
			fmt.Printf("Report: %s\n", f)
		}
	}

	return runErr
}

func reportData(result *orchestrator.RunResult, name string) reporting.ReportData {
	data := reporting.ReportData{
		GeneratedAt:   time.Now(),
		ReportName:    name,
		ProjectID:     result.ProjectID,
		Status:        string(result.Status),
		FinalVideoURL: result.FinalVideoURL,
		Error:         result.Error,
		Duration:      result.Duration.Round(time.Millisecond).String(),
		Stats:         result.Statistics,
	}
	for _, st := range result.Stages {
		data.Stages = append(data.Stages, reporting.StageReport{
			Name:     string(st.Stage),
			Duration: st.Duration.Round(time.Millisecond).String(),
		})
	}
	for _, sc := range result.Scenes {
		data.Scenes = append(data.Scenes, reporting.SceneReport{
			SceneNumber: sc.SceneNumber,
			Status:      string(sc.Status),
			Attempts:    sc.Attempts,
			ClipURL:     sc.ClipURL,
			Error:       sc.Error,
		})
	}
	return data
}

func printSummary(result *orchestrator.RunResult) {
	fmt.Printf("Project:  %s\n", result.ProjectID)
	fmt.Printf("Status:   %s\n", result.Status)
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Second))
	for _, sc := range result.Scenes {
		line := fmt.Sprintf("  scene %d: %s", sc.SceneNumber, sc.Status)
		if sc.Reused {
			line += " (reused)"
		}
		if sc.Error != "" {
			line += " - " + sc.Error
		}
		fmt.Println(line)
	}
	if result.FinalVideoURL != "" {
		fmt.Printf("Video:    %s\n", result.FinalVideoURL)
	}
	if result.Error != "" {
		fmt.Printf("Error:    %s\n", result.Error)
	}
}
