package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"modelgate/internal/catalog"
	"modelgate/internal/classify"
	"modelgate/internal/credentials"
	"modelgate/internal/models"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicFallbackMaxToken = 4096
)

type anthropicPayload struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// buildAnthropicRequest translates the message history into the messages
// API shape: system turns are folded into the top-level system field, and
// max_tokens is mandatory, so an unset parameter falls back to the model's
// declared output ceiling.
func buildAnthropicRequest(ctx context.Context, desc catalog.Descriptor, grant credentials.Grant, modelID string, msgs []models.Message, p models.GenerationParameters) (*http.Request, error) {
	messages := make([]anthropicMessage, 0, len(msgs))
	var systemParts []string

	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				systemParts = append(systemParts, m.Content)
			}
		case models.RoleUser, models.RoleAssistant:
			messages = append(messages, anthropicMessage{
				Role:    string(m.Role),
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})
		}
	}
	if len(messages) == 0 {
		return nil, errors.New("invalid request: conversation requires at least one user message")
	}

	maxTokens := anthropicFallbackMaxToken
	if m, ok := desc.Model(modelID); ok && m.MaxOutputTokens > 0 {
		maxTokens = m.MaxOutputTokens
	}
	if p.MaxTokens != nil {
		maxTokens = *p.MaxTokens
	}

	payload := anthropicPayload{
		Model:       modelID,
		Messages:    messages,
		System:      strings.Join(systemParts, "\n\n"),
		MaxTokens:   maxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		Stream:      true,
	}

	req, err := postJSON(ctx, grant.Endpoint+"/v1/messages", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", grant.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicDecoder handles the messages streaming event sequence. Only
// text deltas, the terminal message_stop and error events matter here;
// message_start, pings and block boundaries carry no caller-visible data.
type anthropicDecoder struct{}

func (d *anthropicDecoder) Decode(data []byte) (chunkResult, error) {
	var event anthropicEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return chunkResult{}, fmt.Errorf("decode upstream chunk: %w", err)
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			return chunkResult{Deltas: []string{event.Delta.Text}}, nil
		}
		return chunkResult{}, nil
	case "message_stop":
		return chunkResult{Done: true}, nil
	case "error":
		message := "upstream stream error"
		if event.Error != nil {
			message = event.Error.Type + ": " + event.Error.Message
		}
		return chunkResult{Err: &classify.UpstreamError{Message: message}}, nil
	default:
		return chunkResult{}, nil
	}
}
