package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Concat joins clips in the given order without re-encoding. The concat
// demuxer list is written next to outputPath.
func (t *Tool) Concat(ctx context.Context, clips []string, outputPath string) error {
	if len(clips) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := filepath.Join(filepath.Dir(outputPath), "concat.txt")
	if err := os.WriteFile(listPath, []byte(ConcatList(clips)), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath)

	err := t.ffmpeg(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outputPath)
	if err != nil {
		return fmt.Errorf("failed to concatenate %d clips: %w", len(clips), err)
	}

	t.logger.Info("Concatenated clips",
		zap.Int("clips", len(clips)),
		zap.String("output", outputPath))
	return nil
}

// MergeAudio muxes audioPath over videoPath at volume. Video is stream
// copied; audio is padded with silence and cut to the video's length.
func (t *Tool) MergeAudio(ctx context.Context, videoPath, audioPath, outputPath string, volume float64) error {
	err := t.ffmpeg(ctx, MergeAudioArgs(videoPath, audioPath, outputPath, volume)...)
	if err != nil {
		return fmt.Errorf("failed to merge audio: %w", err)
	}

	t.logger.Info("Merged audio track",
		zap.String("video", videoPath),
		zap.String("audio", audioPath),
		zap.Float64("volume", volume),
		zap.String("output", outputPath))
	return nil
}

// ConcatList renders a concat demuxer list for clips
func ConcatList(clips []string) string {
	var b strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			abs = clip
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// MergeAudioArgs builds the ffmpeg arguments used by MergeAudio
func MergeAudioArgs(videoPath, audioPath, outputPath string, volume float64) []string {
	filter := fmt.Sprintf("[1:a]volume=%s,apad[aout]", strconv.FormatFloat(volume, 'f', -1, 64))
	return []string{
		"-i", videoPath,
		"-i", audioPath,
		"-filter_complex", filter,
		"-map", "0:v:0",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		"-movflags", "+faststart",
		outputPath,
	}
}
