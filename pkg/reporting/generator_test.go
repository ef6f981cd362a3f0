package reporting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"scenecraft/pkg/stats"
)

func sampleData() ReportData {
	collector := stats.NewCollector()
	collector.RecordCall("scene", 1200*time.Millisecond, "")
	collector.RecordCall("scene", 900*time.Millisecond, "provider_timeout")
	collector.RecordRetry()
	summary := collector.GetSummary()

	return ReportData{
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ProjectID:   "p-1",
		Status:      "failed",
		Error:       "scene 2 failed: provider timeout",
		Duration:    "2m3s",
		Stages:      []StageReport{{Name: "assets", Duration: "10s"}, {Name: "scenes", Duration: "1m50s"}},
		Scenes: []SceneReport{
			{SceneNumber: 1, Status: "completed", Attempts: 1},
			{SceneNumber: 2, Status: "failed", Attempts: 2, Error: "provider timeout | retried"},
			{SceneNumber: 3, Status: "skipped"},
		},
		Stats: &summary,
	}
}

func TestGenerateReportAllFormats(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewGenerator(zap.NewNop()).GenerateReport(sampleData(), ReportConfig{
		OutputDir:  dir,
		ReportName: "run",
		Format:     []string{"markdown", "json", "yaml", "pdf"},
		Timestamp:  true,
	})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "run-20260301-120000.md"), paths[0])

	md, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(md), `| 2 | failed | 2 | provider timeout \| retried |`)
	assert.Contains(t, string(md), "- **Error:** scene 2 failed: provider timeout")
	assert.Contains(t, string(md), "**provider_timeout:** 1")

	raw, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	var decoded ReportData
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "p-1", decoded.ProjectID)
	assert.Len(t, decoded.Scenes, 3)

	raw, err = os.ReadFile(paths[2])
	require.NoError(t, err)
	var fromYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal(raw, &fromYAML))
	assert.Equal(t, "failed", fromYAML["status"])
}
