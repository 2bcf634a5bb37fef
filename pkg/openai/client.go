package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/podgenhq/podgen-backend/pkg/config"
	"github.com/podgenhq/podgen-backend/pkg/logger"
)

var errAPIKeyRequired = errors.New("openai api key is required")

// Client wraps the OpenAI API for speech synthesis and image generation.
// Request deadlines come from the caller's context.
type Client struct {
	api *openai.Client
}

// NewClient initializes the OpenAI client with the configured key.
func NewClient(ctx context.Context, cfg config.OpenAIConfig, logg *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	api := openai.NewClient(apiKey)

	if logg != nil {
		logg.Info(ctx, "openai client initialized")
	}

	return &Client{api: api}, nil
}

// SynthesizeSpeech renders the input text to MP3 audio with the given voice.
func (c *Client) SynthesizeSpeech(ctx context.Context, voice, input string) ([]byte, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.TTSModel1HD,
		Voice: openai.SpeechVoice(voice),
		Input: input,
	})
	if err != nil {
		return nil, fmt.Errorf("creating speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("reading speech payload: %w", err)
	}
	return audio, nil
}

// GenerateImage renders a 1024x1024 PNG for the prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Model:          openai.CreateImageModelDallE3,
		Prompt:         prompt,
		Size:           openai.CreateImageSize1024x1024,
		Quality:        openai.CreateImageQualityStandard,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("image response carried no data")
	}

	image, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}
	return image, nil
}
