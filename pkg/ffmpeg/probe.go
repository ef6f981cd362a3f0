package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ClipMetadata describes a generated clip
type ClipMetadata struct {
	Filename string        `json:"filename"`
	Format   string        `json:"format"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`

	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameRate  float64 `json:"frame_rate"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec,omitempty"`

	Problems []string `json:"problems,omitempty"`
}

// Usable reports whether the clip can be stitched
func (m *ClipMetadata) Usable() bool {
	return len(m.Problems) == 0
}

// HasAudio reports whether the clip carries an audio stream
func (m *ClipMetadata) HasAudio() bool {
	return m.AudioCodec != ""
}

type probeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
}

type probeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Probe reads container and stream metadata with ffprobe and records any
// problems that make the clip unusable
func (t *Tool) Probe(ctx context.Context, filePath string) (*ClipMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	out, err := t.runner.Run(ctx, t.config.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	meta := parseProbe(filePath, &probe)

	t.logger.Debug("Probed clip",
		zap.String("file", filePath),
		zap.Duration("duration", meta.Duration),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.Strings("problems", meta.Problems))

	return meta, nil
}

func parseProbe(filePath string, probe *probeOutput) *ClipMetadata {
	meta := &ClipMetadata{
		Filename: filePath,
		Format:   probe.Format.FormatName,
	}

	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		meta.Duration = time.Duration(d * float64(time.Second))
	}
	if size, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
		meta.Size = size
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if meta.VideoCodec != "" {
				continue
			}
			meta.VideoCodec = stream.CodecName
			meta.Width = stream.Width
			meta.Height = stream.Height
			meta.FrameRate = parseFrameRate(stream.AvgFrameRate)
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = stream.CodecName
			}
		}
	}

	meta.Problems = validationProblems(meta)
	return meta
}

func validationProblems(meta *ClipMetadata) []string {
	var problems []string

	if meta.VideoCodec == "" {
		problems = append(problems, "no video stream")
	}
	if meta.Width == 0 || meta.Height == 0 {
		problems = append(problems, "invalid video dimensions")
	}
	if meta.Duration <= 0 {
		problems = append(problems, "invalid or missing duration")
	}
	if meta.FrameRate != 0 && (meta.FrameRate > 120 || meta.FrameRate < 1) {
		problems = append(problems, fmt.Sprintf("suspicious frame rate: %.2f", meta.FrameRate))
	}

	return problems
}

// parseFrameRate parses frame rate from FFProbe format (e.g., "30/1", "29.97")
func parseFrameRate(frameRateStr string) float64 {
	if num, den, ok := strings.Cut(frameRateStr, "/"); ok {
		numerator, err1 := strconv.ParseFloat(num, 64)
		denominator, err2 := strconv.ParseFloat(den, 64)
		if err1 == nil && err2 == nil && denominator != 0 {
			return numerator / denominator
		}
		return 0
	}
	if frameRate, err := strconv.ParseFloat(frameRateStr, 64); err == nil {
		return frameRate
	}
	return 0
}
