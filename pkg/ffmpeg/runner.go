package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner executes an external binary and returns its stdout
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a runner backed by exec.CommandContext
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes name with args; stderr is folded into the returned error
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Executing command",
		zap.String("command", name),
		zap.Strings("args", args))

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s failed: %w, stderr: %s", name, err, lastLines(stderr.String(), 5))
	}

	r.logger.Debug("Command completed",
		zap.String("command", name),
		zap.Duration("elapsed", time.Since(start)))

	return stdout.Bytes(), nil
}

// Config holds binary paths and the per-invocation timeout
type Config struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// Tool wraps ffmpeg and ffprobe invocations used by the pipeline
type Tool struct {
	runner Runner
	config Config
	logger *zap.Logger
}

// NewTool creates a new Tool. A nil runner uses ExecRunner.
func NewTool(config Config, runner Runner, logger *zap.Logger) *Tool {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.FFprobePath == "" {
		config.FFprobePath = "ffprobe"
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &Tool{
		runner: runner,
		config: config,
		logger: logger,
	}
}

func (t *Tool) ffmpeg(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	_, err := t.runner.Run(ctx, t.config.FFmpegPath, full...)
	return err
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
