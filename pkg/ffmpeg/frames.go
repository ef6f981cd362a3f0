package ffmpeg

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ExtractFirstFrame writes the first decoded frame of videoPath as an image
func (t *Tool) ExtractFirstFrame(ctx context.Context, videoPath, imagePath string) error {
	err := t.ffmpeg(ctx,
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		imagePath)
	if err != nil {
		return fmt.Errorf("failed to extract first frame: %w", err)
	}

	t.logger.Debug("Extracted first frame",
		zap.String("video", videoPath),
		zap.String("image", imagePath))
	return nil
}

// ExtractLastFrame writes the last decoded frame of videoPath as an image.
// Seeking one second from the end and continuously overwriting the output
// leaves the final frame on disk.
func (t *Tool) ExtractLastFrame(ctx context.Context, videoPath, imagePath string) error {
	err := t.ffmpeg(ctx,
		"-sseof", "-1",
		"-i", videoPath,
		"-update", "1",
		"-q:v", "2",
		imagePath)
	if err != nil {
		return fmt.Errorf("failed to extract last frame: %w", err)
	}

	t.logger.Debug("Extracted last frame",
		zap.String("video", videoPath),
		zap.String("image", imagePath))
	return nil
}
