package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"modelgate/internal/models"
)

type chatStreamRequest struct {
	Model    modelConfigDTO       `json:"model" validate:"required"`
	Messages []chatMessageDTO     `json:"messages" validate:"required,min=1,dive"`
	Params   *generationParamsDTO `json:"params"`
}

type modelConfigDTO struct {
	Provider      string `json:"provider" validate:"required"`
	ModelID       string `json:"model_id"`
	Endpoint      string `json:"endpoint" validate:"omitempty,url"`
	CredentialRef string `json:"credential_ref"`
}

type chatMessageDTO struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

type generationParamsDTO struct {
	Temperature      *float64 `json:"temperature"`
	MaxTokens        *int     `json:"max_tokens"`
	TopP             *float64 `json:"top_p"`
	TopK             *int     `json:"top_k"`
	FrequencyPenalty *float64 `json:"frequency_penalty"`
	PresencePenalty  *float64 `json:"presence_penalty"`
}

type deltaFrame struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type doneFrame struct {
	ID string `json:"id"`
}

type errorFrame struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// handleChatStream relays one dispatch to the caller as SSE frames. Every
// outcome travels through the event channel, so even a request that never
// reaches the network ends as a well-formed terminal frame.
func (s *Server) handleChatStream(c echo.Context) error {
	var req chatStreamRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Kind:    "unknown",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	streamID := uuid.NewString()
	ctx := c.Request().Context()
	events := s.dispatcher.Dispatch(ctx, req.Model.toDomain(), toDomainMessages(req.Messages), req.Params.toDomain())

	for ev := range events {
		var err error
		switch ev.Kind {
		case models.EventDelta:
			err = writeSSEEvent(writer, "delta", deltaFrame{ID: streamID, Text: ev.Text})
		case models.EventDone:
			err = writeSSEEvent(writer, "done", doneFrame{ID: streamID})
		case models.EventError:
			frame := errorFrame{
				Kind:       string(ev.Err.Kind),
				Message:    ev.Err.Message,
				RetryAfter: int(ev.Err.RetryAfter.Seconds()),
			}
			err = writeSSEEvent(writer, "error", frame)
		}
		if err != nil {
			// The caller went away mid-write; dispatch sees the context
			// cancellation and shuts the upstream side down.
			slog.Debug("stream write failed", "stream", streamID, "err", err)
			return nil
		}
		flusher.Flush()
	}

	return nil
}

func (m modelConfigDTO) toDomain() models.ModelConfiguration {
	return models.ModelConfiguration{
		Provider:      m.Provider,
		ModelID:       m.ModelID,
		Endpoint:      m.Endpoint,
		CredentialRef: m.CredentialRef,
	}
}

func toDomainMessages(msgs []chatMessageDTO) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.Message{Role: models.Role(m.Role), Content: m.Content})
	}
	return out
}

func (p *generationParamsDTO) toDomain() models.GenerationParameters {
	if p == nil {
		return models.GenerationParameters{}
	}
	return models.GenerationParameters{
		Temperature:      p.Temperature,
		MaxTokens:        p.MaxTokens,
		TopP:             p.TopP,
		TopK:             p.TopK,
		FrequencyPenalty: p.FrequencyPenalty,
		PresencePenalty:  p.PresencePenalty,
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Kind:    "invalid-request",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Kind:    "invalid-request",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Kind:    "invalid-request",
		}
	}
	return nil
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write SSE event name: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
