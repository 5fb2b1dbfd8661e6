// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/poiesic/docingest/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// TextRecognizer implements ai.TextRecognizer using an OpenAI-compatible
// chat model that accepts image input.
type TextRecognizer struct {
	client llms.Model
	logger *slog.Logger
}

// newTextRecognizer is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newTextRecognizer(config *ai.Config) (*TextRecognizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.VisionHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.VisionModel),
		openai.WithHTTPClient(newHTTPClient(config)),
	)
	if err != nil {
		return nil, err
	}

	return &TextRecognizer{
		client: client,
		logger: slog.Default().With("component", "openai-recognizer"),
	}, nil
}

// NewTextRecognizer creates a new text recognizer using the provided configuration.
//
// Returns ai.TextRecognizer interface to enforce abstraction.
func NewTextRecognizer(config *ai.Config) (ai.TextRecognizer, error) {
	return newTextRecognizer(config)
}

// StreamText sends the image as a base64 data URL together with the
// instruction and forwards streamed chunks to fn.
func (r *TextRecognizer) StreamText(ctx context.Context, image []byte, mimeType, instruction string, fn func(chunk string) error) error {
	if len(image) == 0 {
		return errors.New("image is empty")
	}
	r.logger.Debug("transcribing image", "bytes", len(image), "mime", mimeType)

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(instruction),
				llms.ImageURLPart(dataURL),
			},
		},
	}

	streamed := false
	response, err := r.client.GenerateContent(ctx, content,
		llms.WithTemperature(0.0),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			return fn(string(chunk))
		}),
	)
	if err != nil {
		r.logger.Error("failed to transcribe image", "err", err)
		return restoreContextError(ctx, err)
	}

	// Some servers ignore the stream flag and answer in one piece.
	if !streamed && response != nil && len(response.Choices) > 0 && response.Choices[0].Content != "" {
		return fn(response.Choices[0].Content)
	}
	return nil
}
