package models

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the three accepted values.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single conversational turn. Ordering in a slice of messages
// is conversation order; the gateway never mutates a message list.
type Message struct {
	Role    Role
	Content string
}

// ModelConfiguration is the caller's choice of provider, model, optional
// endpoint override and optional stored-credential reference. The gateway
// only reads it.
type ModelConfiguration struct {
	Provider      string
	ModelID       string
	Endpoint      string
	CredentialRef string
}

// GenerationParameters are optional per-request tuning overrides. Nil fields
// fall back to provider defaults; set fields must satisfy the bounds the
// selected provider family declares.
type GenerationParameters struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	TopK             *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

// EventKind discriminates StreamEvent variants.
type EventKind string

const (
	EventDelta EventKind = "delta"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// StreamEvent is the only shape a caller observes from a dispatch,
// regardless of the upstream wire format. Exactly one of Text or Err is
// meaningful, selected by Kind; a Done event carries neither.
type StreamEvent struct {
	Kind EventKind
	Text string
	Err  *NormalizedError
}

// ErrorKind is one of the fixed failure categories every upstream error is
// mapped into.
type ErrorKind string

const (
	ErrKindRateLimit          ErrorKind = "rate-limit"
	ErrKindAuthentication     ErrorKind = "authentication"
	ErrKindModelNotFound      ErrorKind = "model-not-found"
	ErrKindContextLength      ErrorKind = "context-length-exceeded"
	ErrKindContentPolicy      ErrorKind = "content-policy-violation"
	ErrKindInvalidRequest     ErrorKind = "invalid-request"
	ErrKindNetwork            ErrorKind = "network-error"
	ErrKindServiceUnavailable ErrorKind = "service-unavailable"
	ErrKindPaymentRequired    ErrorKind = "payment-required"
	ErrKindUnknown            ErrorKind = "unknown"
)

// NormalizedError is the classified, caller-safe form of an upstream or
// local failure. Message never contains raw upstream text or credential
// fragments. RetryAfter, when non-zero, is a hint for when a retry may
// succeed.
type NormalizedError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface so a NormalizedError can travel
// through error-returning call chains.
func (e *NormalizedError) Error() string {
	return string(e.Kind) + ": " + e.Message
}
