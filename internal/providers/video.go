package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"scenecraft/pkg/config"
	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/utils"
)

// HTTPVideoProvider talks to a submit/poll video generation API:
//
//	POST {base}/v1/generations       -> {"id": "..."}
//	GET  {base}/v1/generations/{id}  -> {"status": "...", "video_url": "...", "error": "..."}
type HTTPVideoProvider struct {
	client  httpclient.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// NewHTTPVideoProvider creates a video provider client
func NewHTTPVideoProvider(cfg config.VideoProviderConfig, client httpclient.Client, logger *zap.Logger) *HTTPVideoProvider {
	return &HTTPVideoProvider{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger.With(zap.String("component", "video_provider")),
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit starts a generation job and returns its id. Submission is never
// retried at the transport level so a slow response cannot create a second
// billable job.
func (p *HTTPVideoProvider) Submit(ctx context.Context, req VideoRequest) (string, error) {
	const op = "video.submit"
	if p.apiKey == "" {
		return "", missingCredential(op, "video provider")
	}
	if p.baseURL == "" {
		return "", utils.Errorf(utils.KindConfiguration, op, "video provider base url is not configured")
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/generations", req,
		httpclient.WithBearerToken(p.apiKey),
		httpclient.WithRetryAttempts(0))
	if err := classify(op, resp, err); err != nil {
		return "", err
	}

	var out submitResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", utils.E(utils.KindProviderRejected, op, err)
	}
	if out.ID == "" {
		return "", utils.Errorf(utils.KindProviderRejected, op, "provider returned no job id")
	}

	p.logger.Debug("Submitted video generation",
		zap.String("job_id", out.ID),
		zap.String("model", req.ModelID),
		zap.Bool("has_start_image", req.StartImageURL != ""),
		zap.Bool("has_previous_video", req.PreviousVideoURL != ""),
		zap.Int("references", len(req.ReferenceImageURLs)))
	return out.ID, nil
}

// Status polls a job
func (p *HTTPVideoProvider) Status(ctx context.Context, jobID string) (*VideoStatus, error) {
	const op = "video.status"
	if p.apiKey == "" {
		return nil, missingCredential(op, "video provider")
	}

	resp, err := p.client.Get(ctx, fmt.Sprintf("%s/v1/generations/%s", p.baseURL, url.PathEscape(jobID)),
		httpclient.WithBearerToken(p.apiKey))
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var status VideoStatus
	if err := resp.DecodeJSON(&status); err != nil {
		return nil, utils.E(utils.KindTransientNetwork, op, err)
	}
	status.State = normalizeState(string(status.State))
	if status.State == JobSucceeded && status.VideoURL == "" {
		return nil, utils.Errorf(utils.KindProviderRejected, op, "job %s succeeded without a video url", jobID)
	}
	return &status, nil
}

// normalizeState maps the vocabulary providers use onto JobState
func normalizeState(s string) JobState {
	switch strings.ToLower(s) {
	case "succeeded", "success", "completed", "complete", "done":
		return JobSucceeded
	case "failed", "failure", "error", "cancelled", "canceled":
		return JobFailed
	case "running", "processing", "in_progress", "generating":
		return JobRunning
	default:
		return JobQueued
	}
}
