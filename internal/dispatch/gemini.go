package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"modelgate/internal/classify"
	"modelgate/internal/credentials"
	"modelgate/internal/models"
)

type geminiPayload struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenCfg struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
}

// buildGeminiRequest targets the streamGenerateContent endpoint with
// alt=sse. System turns become the systemInstruction; assistant turns map
// to the "model" role.
func buildGeminiRequest(ctx context.Context, grant credentials.Grant, modelID string, msgs []models.Message, p models.GenerationParameters) (*http.Request, error) {
	var contents []geminiContent
	var systemParts []geminiPart

	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: m.Content})
		case models.RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	payload := geminiPayload{Contents: contents}
	if len(systemParts) > 0 {
		payload.SystemInstruction = &geminiContent{Parts: systemParts}
	}
	if p.Temperature != nil || p.MaxTokens != nil || p.TopP != nil || p.TopK != nil {
		payload.GenerationConfig = &geminiGenCfg{
			Temperature:     p.Temperature,
			MaxOutputTokens: p.MaxTokens,
			TopP:            p.TopP,
			TopK:            p.TopK,
		}
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", grant.Endpoint, modelID)
	req, err := postJSON(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", grant.APIKey)
	return req, nil
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// geminiDecoder handles streamGenerateContent SSE payloads. Each event
// carries the new text for this increment in the candidate's parts; a
// finishReason on the candidate marks the end of generation (there is no
// [DONE] sentinel in this dialect).
type geminiDecoder struct{}

func (d *geminiDecoder) Decode(data []byte) (chunkResult, error) {
	var chunk geminiChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return chunkResult{}, fmt.Errorf("decode upstream chunk: %w", err)
	}

	if chunk.Error != nil {
		message := chunk.Error.Message
		if chunk.Error.Status != "" {
			message = chunk.Error.Status + ": " + message
		}
		return chunkResult{Err: &classify.UpstreamError{Message: message}}, nil
	}

	var result chunkResult
	for _, candidate := range chunk.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				result.Deltas = append(result.Deltas, part.Text)
			}
		}
		if candidate.FinishReason != "" {
			result.Done = true
		}
	}
	return result, nil
}
