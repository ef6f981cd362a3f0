package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"scenecraft/internal/models"
	"scenecraft/pkg/config"
	"scenecraft/pkg/utils"
)

// DefaultImageModel is used when neither the request nor the config names one
const DefaultImageModel = "gpt-image-1"

// OpenAIImageProvider generates images through the OpenAI Images API
type OpenAIImageProvider struct {
	client       openai.Client
	configured   bool
	defaultModel string
	logger       *zap.Logger
}

// NewOpenAIImageProvider creates an image provider. A provider without an
// api key is still returned; every call fails with a configuration error.
func NewOpenAIImageProvider(cfg config.ImageProviderConfig, timeout time.Duration, logger *zap.Logger) *OpenAIImageProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultImageModel
	}

	return &OpenAIImageProvider{
		client:       openai.NewClient(opts...),
		configured:   cfg.APIKey != "",
		defaultModel: model,
		logger:       logger.With(zap.String("component", "image_provider")),
	}
}

// GenerateImage creates one image and returns its inline bytes or URL
func (p *OpenAIImageProvider) GenerateImage(ctx context.Context, req ImageRequest) (*Media, error) {
	const op = "image.generate"
	if !p.configured {
		return nil, missingCredential(op, "image provider")
	}

	model := req.ModelID
	if model == "" {
		model = p.defaultModel
	}

	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: StyledPrompt(req.Prompt, req.Style),
		Model:  openai.ImageModel(model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(ImageSize(req.AspectRatio)),
	})
	if err != nil {
		return nil, classifyOpenAI(op, err)
	}
	if len(resp.Data) == 0 {
		return nil, utils.Errorf(utils.KindProviderRejected, op, "provider returned no image")
	}

	image := resp.Data[0]
	switch {
	case image.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(image.B64JSON)
		if err != nil {
			return nil, utils.E(utils.KindProviderRejected, op, err)
		}
		return &Media{Data: data, Format: "png"}, nil
	case image.URL != "":
		return &Media{URL: image.URL, Format: formatFromURL(image.URL, "png")}, nil
	default:
		return nil, utils.Errorf(utils.KindProviderRejected, op, "provider returned an empty image")
	}
}

// ImageSize maps an aspect ratio onto a supported image size
func ImageSize(aspectRatio string) string {
	switch aspectRatio {
	case "16:9", "4:3", "3:2":
		return "1536x1024"
	case "9:16", "3:4", "2:3":
		return "1024x1536"
	default:
		return "1024x1024"
	}
}

// StyledPrompt appends the project's style parameters to a prompt
func StyledPrompt(prompt string, style models.Style) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			b.WriteString(". ")
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(value)
		}
	}
	add("Style", style.VisualStyle)
	add("Mood", style.Mood)
	add("Color palette", style.ColorPalette)
	add("Pacing", style.Pacing)
	return b.String()
}

func classifyOpenAI(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return utils.E(classifyStatus(apiErr.StatusCode), op, err)
	}
	return classify(op, nil, err)
}
