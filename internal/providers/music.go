package providers

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"scenecraft/pkg/config"
	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/utils"
)

// HTTPMusicProvider talks to a synchronous music generation API:
//
//	POST {base}/v1/music_generation -> {"audio_url": "..."} or {"audio_base64": "..."}
type HTTPMusicProvider struct {
	client  httpclient.Client
	baseURL string
	apiKey  string
	model   string
	logger  *zap.Logger
}

// NewHTTPMusicProvider creates a music provider client
func NewHTTPMusicProvider(cfg config.MusicProviderConfig, client httpclient.Client, logger *zap.Logger) *HTTPMusicProvider {
	return &HTTPMusicProvider{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		logger:  logger.With(zap.String("component", "music_provider")),
	}
}

type musicResponse struct {
	AudioURL    string `json:"audio_url"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

// GenerateMusic creates one track
func (p *HTTPMusicProvider) GenerateMusic(ctx context.Context, req MusicRequest) (*Media, error) {
	const op = "music.generate"
	if p.apiKey == "" {
		return nil, missingCredential(op, "music provider")
	}
	if p.baseURL == "" {
		return nil, utils.Errorf(utils.KindConfiguration, op, "music provider base url is not configured")
	}
	if req.Model == "" {
		req.Model = p.model
	}
	if req.Format == "" {
		req.Format = "mp3"
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/music_generation", req,
		httpclient.WithBearerToken(p.apiKey),
		httpclient.WithRetryAttempts(0))
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var out musicResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, utils.E(utils.KindProviderRejected, op, err)
	}
	if out.Error != "" {
		return nil, utils.Errorf(utils.KindProviderRejected, op, "%s", out.Error)
	}

	switch {
	case out.AudioBase64 != "":
		data, err := base64.StdEncoding.DecodeString(out.AudioBase64)
		if err != nil {
			return nil, utils.E(utils.KindProviderRejected, op, err)
		}
		return &Media{Data: data, Format: req.Format}, nil
	case out.AudioURL != "":
		return &Media{URL: out.AudioURL, Format: formatFromURL(out.AudioURL, req.Format)}, nil
	default:
		return nil, utils.Errorf(utils.KindProviderRejected, op, "provider returned no audio")
	}
}

// Fetch materializes generated media at localPath, downloading it when the
// provider returned a URL
func Fetch(ctx context.Context, client httpclient.Client, media *Media, localPath string) error {
	const op = "media.fetch"
	if len(media.Data) > 0 {
		if err := writeFile(localPath, media.Data); err != nil {
			return utils.E(utils.KindStorage, op, err)
		}
		return nil
	}
	if media.URL == "" {
		return utils.Errorf(utils.KindProviderRejected, op, "no media to fetch")
	}
	if _, err := client.Download(ctx, media.URL, localPath); err != nil {
		return downloadError(op, err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// formatFromURL returns the extension of a media URL without its dot
func formatFromURL(raw, fallback string) string {
	return strings.TrimPrefix(utils.ExtensionFromURL(raw, "."+fallback), ".")
}
