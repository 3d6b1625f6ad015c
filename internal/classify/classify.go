// Package classify maps arbitrary dispatch failures into the fixed error
// taxonomy the gateway exposes to callers. Classification is total: any
// error, including garbage, resolves to a NormalizedError with a known kind.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"time"

	"modelgate/internal/catalog"
	"modelgate/internal/credentials"
	"modelgate/internal/models"
	"modelgate/internal/params"
)

// UpstreamError carries a raw upstream failure from the point where it is
// first observed to the classifier. The raw message never leaves this
// package unredacted.
type UpstreamError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// rule is one entry of the ordered matching table. A rule applies when its
// pattern (if any) matches the error text and its status (if any) equals
// the upstream HTTP status. First match wins, so more specific rules must
// precede broader ones; in particular the quota/billing rule sits ahead of
// the bare 429 rule so exhausted quota is not reported as transient rate
// limiting.
type rule struct {
	kind    models.ErrorKind
	pattern *regexp.Regexp
	status  int
}

var rules = []rule{
	{kind: models.ErrKindRateLimit, pattern: regexp.MustCompile(`(?i)rate[ _-]?limit|too many requests`)},
	{kind: models.ErrKindAuthentication, pattern: regexp.MustCompile(`(?i)incorrect api key|invalid[ _-]?api[ _-]?key|invalid x-api-key|api key not valid|unauthorized|authentication|permission denied|forbidden`)},
	{kind: models.ErrKindModelNotFound, pattern: regexp.MustCompile(`(?i)model.{0,40}(not[ _-]?found|does not exist|not exist)|no such model|unknown model|model_not_found`)},
	{kind: models.ErrKindContextLength, pattern: regexp.MustCompile(`(?i)context[ _-]?(length|window)|maximum context|too many tokens|prompt is too long|input is too long`)},
	{kind: models.ErrKindContentPolicy, pattern: regexp.MustCompile(`(?i)content[ _-]?(policy|filter|management)|safety (system|setting)|flagged|prohibited content`)},
	{kind: models.ErrKindInvalidRequest, pattern: regexp.MustCompile(`(?i)invalid[ _-]?request|invalid parameter|malformed|unprocessable`)},
	{kind: models.ErrKindNetwork, pattern: regexp.MustCompile(`(?i)connection (refused|reset)|no such host|broken pipe|network is unreachable|tls handshake`)},
	{kind: models.ErrKindServiceUnavailable, pattern: regexp.MustCompile(`(?i)service[ _-]?unavailable|overloaded|temporarily|bad gateway|timed? ?out`)},
	{kind: models.ErrKindPaymentRequired, pattern: regexp.MustCompile(`(?i)quota|billing|payment|insufficient[ _-]?(funds|credit)|credit balance`)},

	// Status fallbacks for upstreams whose error bodies match no pattern.
	{kind: models.ErrKindAuthentication, status: 401},
	{kind: models.ErrKindPaymentRequired, status: 402},
	{kind: models.ErrKindAuthentication, status: 403},
	{kind: models.ErrKindModelNotFound, status: 404},
	{kind: models.ErrKindContextLength, status: 413},
	{kind: models.ErrKindInvalidRequest, status: 400},
	{kind: models.ErrKindInvalidRequest, status: 422},
	{kind: models.ErrKindRateLimit, status: 429},
	{kind: models.ErrKindServiceUnavailable, status: 500},
	{kind: models.ErrKindServiceUnavailable, status: 502},
	{kind: models.ErrKindServiceUnavailable, status: 503},
	{kind: models.ErrKindServiceUnavailable, status: 529},
}

// kindMessages are the caller-facing texts for failures that originate
// upstream. They deliberately carry none of the raw upstream payload.
var kindMessages = map[models.ErrorKind]string{
	models.ErrKindRateLimit:          "the provider is rate limiting requests; retry after the suggested delay",
	models.ErrKindAuthentication:     "the provider rejected the credential; check the configured API key",
	models.ErrKindModelNotFound:      "the requested model is not available on this provider",
	models.ErrKindContextLength:      "the conversation exceeds the model's context window; shorten the history",
	models.ErrKindContentPolicy:      "the provider declined the request under its content policy",
	models.ErrKindInvalidRequest:     "the provider rejected the request as invalid",
	models.ErrKindNetwork:            "could not reach the provider; check connectivity and the endpoint URL",
	models.ErrKindServiceUnavailable: "the provider is currently unavailable; retry later",
	models.ErrKindPaymentRequired:    "the provider account has a billing or quota problem",
	models.ErrKindUnknown:            "the provider returned an unexpected error",
}

const (
	defaultRateLimitRetry   = 30 * time.Second
	defaultUnavailableRetry = 10 * time.Second
)

// Classify maps any error to a NormalizedError. Local failures (validation,
// credential resolution, unknown provider) keep their own message text,
// which this gateway authored; upstream failures get a fixed safe message.
// Every message passes the redaction pass regardless of the matched kind.
func Classify(err error) *models.NormalizedError {
	kind, msg, retryAfter := classify(err)
	if msg == "" {
		msg = kindMessages[kind]
	}
	if retryAfter == 0 {
		switch kind {
		case models.ErrKindRateLimit:
			retryAfter = defaultRateLimitRetry
		case models.ErrKindServiceUnavailable:
			retryAfter = defaultUnavailableRetry
		}
	}
	return &models.NormalizedError{
		Kind:       kind,
		Message:    Redact(msg),
		RetryAfter: retryAfter,
	}
}

func classify(err error) (models.ErrorKind, string, time.Duration) {
	if err == nil {
		return models.ErrKindUnknown, "", 0
	}

	// Failures this gateway produced locally: their text is safe to show.
	var valErr *params.ValidationError
	if errors.As(err, &valErr) {
		return models.ErrKindInvalidRequest, valErr.Error(), 0
	}
	if errors.Is(err, credentials.ErrUnresolvable) || errors.Is(err, credentials.ErrUnknownRef) {
		return models.ErrKindAuthentication, err.Error(), 0
	}
	if errors.Is(err, catalog.ErrUnknownProvider) {
		return models.ErrKindInvalidRequest, err.Error(), 0
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindServiceUnavailable, "", 0
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		if r, ok := matchRules(upstream.Message, upstream.Status); ok {
			return r, "", upstream.RetryAfter
		}
		return models.ErrKindUnknown, "", upstream.RetryAfter
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return models.ErrKindServiceUnavailable, "", 0
		}
		return models.ErrKindNetwork, "", 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.ErrKindServiceUnavailable, "", 0
		}
		return models.ErrKindNetwork, "", 0
	}

	if r, ok := matchRules(err.Error(), 0); ok {
		return r, "", 0
	}
	return models.ErrKindUnknown, "", 0
}

func matchRules(text string, status int) (models.ErrorKind, bool) {
	for _, r := range rules {
		if r.pattern != nil && text != "" && r.pattern.MatchString(text) {
			return r.kind, true
		}
		if r.pattern == nil && r.status != 0 && r.status == status {
			return r.kind, true
		}
	}
	return models.ErrKindUnknown, false
}
