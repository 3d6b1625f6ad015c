// Package dispatch is the gateway's request/response engine. One dispatch
// validates the request, resolves a credential, opens a streaming upstream
// connection and relays the provider's output as uniform stream events,
// classifying any failure before it reaches the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"modelgate/internal/catalog"
	"modelgate/internal/classify"
	"modelgate/internal/credentials"
	"modelgate/internal/models"
	"modelgate/internal/params"
)

// State names a position in the dispatch lifecycle. Transitions are linear
// up to Streaming; any state can move to Failed or Cancelled.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateResolving  State = "resolving"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// errIdleTimeout wraps DeadlineExceeded so the classifier reports a 2xx
// upstream that went silent as a service-unavailable condition.
var errIdleTimeout = fmt.Errorf("upstream sent no chunk within the idle window: %w", context.DeadlineExceeded)

// Timeouts bounds the two phases of an upstream connection.
type Timeouts struct {
	Connect   time.Duration
	IdleChunk time.Duration
}

// Dispatcher drives chat-completion dispatches. It holds no per-request
// state: every Dispatch call runs in its own goroutine and shares only the
// resolver, the HTTP client and the read-only catalog.
type Dispatcher struct {
	resolver *credentials.Resolver
	client   *http.Client
	timeouts Timeouts
	log      *slog.Logger
}

// New constructs a dispatcher. A nil client gets the tuned default; a nil
// logger discards state transitions.
func New(resolver *credentials.Resolver, timeouts Timeouts, client *http.Client, log *slog.Logger) *Dispatcher {
	if client == nil {
		client = newHTTPClient(timeouts.Connect)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		resolver: resolver,
		client:   client,
		timeouts: timeouts,
		log:      log,
	}
}

// Dispatch runs one chat request and returns the event channel the caller
// consumes. The channel yields zero or more TextDelta events in upstream
// order, then exactly one terminal event (Done or Error), and is closed.
// Cancelling ctx withdraws interest: the upstream connection is closed
// promptly and no further events are delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg models.ModelConfiguration, msgs []models.Message, p models.GenerationParameters) <-chan models.StreamEvent {
	events := make(chan models.StreamEvent)
	go d.run(ctx, cfg, msgs, p, events)
	return events
}

func (d *Dispatcher) run(ctx context.Context, cfg models.ModelConfiguration, msgs []models.Message, p models.GenerationParameters, events chan<- models.StreamEvent) {
	defer close(events)

	state := StateIdle
	transition := func(next State) {
		d.log.Debug("dispatch state", "provider", cfg.Provider, "from", string(state), "to", string(next))
		state = next
	}

	fail := func(err error) {
		transition(StateFailed)
		normalized := classify.Classify(err)
		d.log.Warn("dispatch failed",
			"provider", cfg.Provider,
			"model", cfg.ModelID,
			"kind", string(normalized.Kind),
			"cause", classify.Redact(err.Error()),
		)
		emit(ctx, events, models.StreamEvent{Kind: models.EventError, Err: normalized})
	}

	transition(StateValidating)
	desc, err := catalog.Describe(cfg.Provider)
	if err != nil {
		fail(err)
		return
	}
	modelID, err := effectiveModel(desc, cfg.ModelID)
	if err != nil {
		fail(err)
		return
	}
	if err := validateMessages(msgs); err != nil {
		fail(err)
		return
	}
	if err := params.Validate(desc, modelID, p); err != nil {
		fail(err)
		return
	}

	transition(StateResolving)
	grant, err := d.resolver.Resolve(cfg)
	if err != nil {
		fail(err)
		return
	}

	transition(StateConnecting)
	// streamCtx lets the idle watchdog abort body reads without touching
	// the caller's context; a caller cancellation still wins through the
	// parent relationship.
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := buildRequest(streamCtx, desc, grant, modelID, msgs, p)
	if err != nil {
		fail(err)
		return
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			transition(StateCancelled)
			return
		}
		fail(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(upstreamError(resp))
		return
	}

	transition(StateStreaming)
	decoder := newSSEDecoder(resp.Body)
	chunks := newChunkDecoder(desc.Dialect)
	watchdog := time.AfterFunc(d.timeouts.IdleChunk, func() { cancel(errIdleTimeout) })
	defer watchdog.Stop()

	for {
		data, err := decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				transition(StateCompleted)
				emit(ctx, events, models.StreamEvent{Kind: models.EventDone})
				return
			}
			if ctx.Err() != nil {
				transition(StateCancelled)
				return
			}
			if cause := context.Cause(streamCtx); errors.Is(cause, errIdleTimeout) {
				fail(cause)
				return
			}
			fail(err)
			return
		}
		watchdog.Reset(d.timeouts.IdleChunk)

		result, err := chunks.Decode(data)
		if err != nil {
			fail(err)
			return
		}
		for _, delta := range result.Deltas {
			if !emit(ctx, events, models.StreamEvent{Kind: models.EventDelta, Text: delta}) {
				transition(StateCancelled)
				return
			}
		}
		// A well-formed error payload mid-stream still terminates the
		// sequence with an error event; deltas already delivered stand.
		if result.Err != nil {
			fail(result.Err)
			return
		}
		if result.Done {
			transition(StateCompleted)
			emit(ctx, events, models.StreamEvent{Kind: models.EventDone})
			return
		}
	}
}

// emit forwards one event unless the caller has withdrawn interest.
func emit(ctx context.Context, events chan<- models.StreamEvent, ev models.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// effectiveModel picks the model to dispatch: the caller's choice when
// given, else the family's first declared model. The choice must be in the
// descriptor's list unless the family serves an open model list.
func effectiveModel(desc catalog.Descriptor, modelID string) (string, error) {
	if modelID == "" {
		if len(desc.Models) == 0 {
			return "", fmt.Errorf("invalid request: provider %s requires an explicit model id", desc.Name)
		}
		return desc.Models[0].ID, nil
	}
	if !desc.SupportsModel(modelID) {
		return "", fmt.Errorf("model %q not found for provider %s", modelID, desc.Name)
	}
	return modelID, nil
}

func validateMessages(msgs []models.Message) error {
	if len(msgs) == 0 {
		return errors.New("invalid request: message history must not be empty")
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("invalid request: message %d has unknown role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("invalid request: message %d content must not be empty", i)
		}
	}
	return nil
}
