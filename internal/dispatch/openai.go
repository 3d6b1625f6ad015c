package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"modelgate/internal/classify"
	"modelgate/internal/credentials"
	"modelgate/internal/models"
)

// The openai dialect covers the OpenAI API itself plus the families that
// mirror it (mistral, groq, self-hosted servers).

type openAIChatPayload struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Stream           bool            `json:"stream"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildOpenAIRequest(ctx context.Context, grant credentials.Grant, modelID string, msgs []models.Message, p models.GenerationParameters) (*http.Request, error) {
	messages := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		messages = append(messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	payload := openAIChatPayload{
		Model:            modelID,
		Messages:         messages,
		Stream:           true,
		MaxTokens:        p.MaxTokens,
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		FrequencyPenalty: p.FrequencyPenalty,
		PresencePenalty:  p.PresencePenalty,
	}

	req, err := postJSON(ctx, grant.Endpoint+"/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+grant.APIKey)
	return req, nil
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// openAIDecoder handles chat.completion.chunk payloads and the [DONE]
// sentinel. Some compatible servers close the connection without sending
// [DONE]; the dispatcher treats a clean EOF as completion for that reason.
type openAIDecoder struct{}

func (d *openAIDecoder) Decode(data []byte) (chunkResult, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
		return chunkResult{Done: true}, nil
	}

	var chunk openAIChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return chunkResult{}, fmt.Errorf("decode upstream chunk: %w", err)
	}

	if chunk.Error != nil {
		message := chunk.Error.Message
		if chunk.Error.Type != "" {
			message = chunk.Error.Type + ": " + message
		}
		return chunkResult{Err: &classify.UpstreamError{Message: message}}, nil
	}

	var result chunkResult
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			result.Deltas = append(result.Deltas, choice.Delta.Content)
		}
	}
	return result, nil
}
