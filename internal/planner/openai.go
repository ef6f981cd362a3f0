package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"scenecraft/internal/models"
	"scenecraft/pkg/config"
	"scenecraft/pkg/utils"
)

// Request is the input to script planning
type Request struct {
	Prompt          string
	Category        string
	DurationSeconds int
	Style           models.Style
}

// Planner turns a project prompt and duration into a script
type Planner interface {
	Plan(ctx context.Context, req Request) (*Script, error)
}

// scriptResponse is the structured output requested from the model
type scriptResponse struct {
	Script string          `json:"script" jsonschema_description:"A short narrative script for the whole video."`
	Scenes []sceneResponse `json:"scenes" jsonschema_description:"The ordered scenes of the video."`
}

type sceneResponse struct {
	Prompt   string  `json:"prompt" jsonschema_description:"A detailed visual text-to-video prompt for this scene including subject action and camera movement."`
	Duration float64 `json:"duration" jsonschema_description:"Duration of this scene in seconds, at most 8."`
}

// GenerateSchema generates a JSON schema for structured outputs
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var scriptSchema = GenerateSchema[scriptResponse]()

// DefaultModel is the chat model used when none is configured
const DefaultModel = openai.ChatModelGPT4oMini

// OpenAIPlanner plans scripts with a chat model constrained to a JSON schema
type OpenAIPlanner struct {
	client          openai.Client
	configured      bool
	model           string
	maxSceneSeconds float64
	logger          *zap.Logger

	// complete sends one prompt and returns the raw JSON answer
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewOpenAIPlanner creates a planner
func NewOpenAIPlanner(cfg config.LLMConfig, maxSceneSeconds int, timeout time.Duration, logger *zap.Logger) *OpenAIPlanner {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	p := &OpenAIPlanner{
		client:          openai.NewClient(opts...),
		configured:      cfg.APIKey != "",
		model:           model,
		maxSceneSeconds: float64(maxSceneSeconds),
		logger:          logger.With(zap.String("component", "planner")),
	}
	p.complete = p.structuredCompletion
	return p
}

// Plan asks the model for TargetSceneCount scenes and normalizes the answer
func (p *OpenAIPlanner) Plan(ctx context.Context, req Request) (*Script, error) {
	const op = "planner.plan"
	if !p.configured {
		return nil, utils.Errorf(utils.KindConfiguration, op, "llm credential is not configured")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, utils.NewValidationError("prompt", "is required for script planning")
	}
	if req.DurationSeconds <= 0 {
		return nil, utils.NewValidationError("durationSeconds", "must be positive")
	}

	raw, err := p.complete(ctx, buildPrompt(req))
	if err != nil {
		return nil, err
	}

	var resp scriptResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, utils.E(utils.KindProviderRejected, op, fmt.Errorf("failed to parse planner response: %w", err))
	}

	planned := make([]PlannedScene, 0, len(resp.Scenes))
	for _, s := range resp.Scenes {
		planned = append(planned, PlannedScene{Prompt: s.Prompt, Duration: s.Duration})
	}
	scenes := Normalize(planned, req.DurationSeconds, p.maxSceneSeconds)

	min, max := SceneCountRange(req.DurationSeconds)
	if len(scenes) < min {
		return nil, utils.Errorf(utils.KindProviderRejected, op,
			"planner proposed %d scenes for %ds, want %d-%d", len(scenes), req.DurationSeconds, min, max)
	}

	p.logger.Info("Planned script",
		zap.Int("duration_seconds", req.DurationSeconds),
		zap.Int("scenes", len(scenes)))

	return &Script{Script: strings.TrimSpace(resp.Script), Scenes: scenes}, nil
}

func buildPrompt(req Request) string {
	min, max := SceneCountRange(req.DurationSeconds)
	var b strings.Builder
	fmt.Fprintf(&b, "You are a visual storyteller planning a %d second video.\n", req.DurationSeconds)
	fmt.Fprintf(&b, "Concept: %q\n", req.Prompt)
	if req.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", req.Category)
	}
	for _, kv := range [][2]string{
		{"Visual style", req.Style.VisualStyle},
		{"Mood", req.Style.Mood},
		{"Color palette", req.Style.ColorPalette},
		{"Pacing", req.Style.Pacing},
		{"Aspect ratio", req.Style.AspectRatio},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
		}
	}
	fmt.Fprintf(&b, "Write a short script and break it into %d scenes (allowed range %d to %d).\n",
		TargetSceneCount(req.DurationSeconds), min, max)
	fmt.Fprintf(&b, "Each scene lasts at most %d seconds. Each prompt must stand alone as a text-to-video prompt and keep the characters and styling consistent.", MaxSceneSeconds)
	return b.String()
}

func (p *OpenAIPlanner) structuredCompletion(ctx context.Context, prompt string) (string, error) {
	const op = "planner.complete"
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: p.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "video_script",
					Description: openai.String("Scene breakdown of a video"),
					Schema:      scriptSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
				return "", utils.E(utils.KindConfiguration, op, err)
			case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
				return "", utils.E(utils.KindTransientNetwork, op, err)
			default:
				return "", utils.E(utils.KindProviderRejected, op, err)
			}
		}
		if utils.IsTimeoutError(err) {
			return "", utils.E(utils.KindProviderTimeout, op, err)
		}
		return "", utils.E(utils.KindTransientNetwork, op, err)
	}
	if len(completion.Choices) == 0 {
		return "", utils.Errorf(utils.KindProviderRejected, op, "no response from model")
	}
	return completion.Choices[0].Message.Content, nil
}
