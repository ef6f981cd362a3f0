package providers

import (
	"context"

	"scenecraft/internal/models"
)

// JobState is the provider-side state of a video generation job
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the job will not change state again
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// VideoRequest is one clip generation request. All image and video inputs
// are URLs the provider can fetch.
type VideoRequest struct {
	Prompt             string       `json:"prompt"`
	ModelID            string       `json:"model"`
	AspectRatio        string       `json:"aspect_ratio,omitempty"`
	DurationSeconds    float64      `json:"duration,omitempty"`
	ReferenceImageURLs []string     `json:"reference_images,omitempty"`
	StartImageURL      string       `json:"start_image,omitempty"`
	PreviousVideoURL   string       `json:"previous_video,omitempty"`
	Style              models.Style `json:"style"`
}

// VideoStatus is the polled state of a job
type VideoStatus struct {
	State    JobState `json:"status"`
	VideoURL string   `json:"video_url,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// VideoProvider submits clip generations and reports their status
type VideoProvider interface {
	Submit(ctx context.Context, req VideoRequest) (string, error)
	Status(ctx context.Context, jobID string) (*VideoStatus, error)
}

// ImageRequest is one reference image generation request
type ImageRequest struct {
	Prompt      string
	ModelID     string
	AspectRatio string
	Style       models.Style
}

// Media is generated binary output: either inline data or a URL to fetch
type Media struct {
	URL    string
	Data   []byte
	Format string // file extension without dot
}

// ImageProvider generates still images
type ImageProvider interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*Media, error)
}

// MusicRequest is one music track generation request
type MusicRequest struct {
	Lyrics     string `json:"lyrics,omitempty"`
	Prompt     string `json:"prompt"`
	Model      string `json:"model,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Format     string `json:"audio_format,omitempty"`
}

// MusicProvider generates audio tracks
type MusicProvider interface {
	GenerateMusic(ctx context.Context, req MusicRequest) (*Media, error)
}
