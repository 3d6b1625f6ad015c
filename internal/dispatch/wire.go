package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"modelgate/internal/catalog"
	"modelgate/internal/classify"
	"modelgate/internal/credentials"
	"modelgate/internal/models"
)

const (
	contentTypeJSON   = "application/json"
	userAgent         = "modelgate/0.1"
	maxErrorBodyBytes = 64 * 1024
)

// chunkResult is the dialect-neutral outcome of decoding one upstream SSE
// payload. Deltas preserve in-chunk order; Err reports a well-formed error
// payload the upstream delivered mid-stream.
type chunkResult struct {
	Deltas []string
	Done   bool
	Err    *classify.UpstreamError
}

// chunkDecoder translates one dialect's SSE payloads into chunkResults.
// Decoders are constructed per dispatch and may carry per-stream state.
type chunkDecoder interface {
	Decode(data []byte) (chunkResult, error)
}

// buildRequest assembles the provider-dialect HTTP request for one dispatch.
func buildRequest(ctx context.Context, desc catalog.Descriptor, grant credentials.Grant, modelID string, msgs []models.Message, p models.GenerationParameters) (*http.Request, error) {
	switch desc.Dialect {
	case catalog.DialectOpenAI:
		return buildOpenAIRequest(ctx, grant, modelID, msgs, p)
	case catalog.DialectAnthropic:
		return buildAnthropicRequest(ctx, desc, grant, modelID, msgs, p)
	case catalog.DialectGemini:
		return buildGeminiRequest(ctx, grant, modelID, msgs, p)
	default:
		return nil, fmt.Errorf("no wire adapter for dialect %q", desc.Dialect)
	}
}

// newChunkDecoder selects the stream decoder for a dialect.
func newChunkDecoder(dialect catalog.Dialect) chunkDecoder {
	switch dialect {
	case catalog.DialectAnthropic:
		return &anthropicDecoder{}
	case catalog.DialectGemini:
		return &geminiDecoder{}
	default:
		return &openAIDecoder{}
	}
}

func postJSON(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// upstreamError captures a non-2xx response as a raw upstream failure for
// the classifier. The body is read with a hard limit; the raw text never
// travels further than the classify package.
func upstreamError(resp *http.Response) *classify.UpstreamError {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	message := strings.TrimSpace(string(body))
	if err != nil && message == "" {
		message = "failed to read upstream error body"
	}

	var envelope errorEnvelope
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error != nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		if envelope.Error.Type != "" {
			message = envelope.Error.Type + ": " + message
		}
	}

	return &classify.UpstreamError{
		Status:     resp.StatusCode,
		Message:    message,
		RetryAfter: parseRetryAfter(resp.Header),
	}
}

// parseRetryAfter reads the Retry-After header in either delta-seconds or
// HTTP-date form.
func parseRetryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
