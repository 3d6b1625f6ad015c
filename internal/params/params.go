// Package params checks a request's generation parameters against the
// bounds a provider family declares, before any network call is made.
package params

import (
	"fmt"

	"modelgate/internal/catalog"
	"modelgate/internal/models"
)

// ValidationError names the first offending field, the rejected value and
// the range the provider family allows, so the caller can self-correct.
type ValidationError struct {
	Field string
	Value float64
	Range catalog.Range
	// Unsupported marks a field the provider family does not expose at
	// all, as opposed to an out-of-range value.
	Unsupported bool
	Provider    string
}

func (e *ValidationError) Error() string {
	if e.Unsupported {
		return fmt.Sprintf("parameter %s is not supported by provider %s", e.Field, e.Provider)
	}
	return fmt.Sprintf("parameter %s value %g is outside the allowed range %s", e.Field, e.Value, e.Range)
}

// Validate checks every set field of p against the bounds declared by desc,
// failing fast on the first violation. MaxTokens is additionally capped by
// the selected model's output ceiling when the model is declared in the
// catalog. Setting a tunable the family does not expose is an error; silent
// acceptance would surface later as an opaque provider-side failure.
func Validate(desc catalog.Descriptor, modelID string, p models.GenerationParameters) error {
	if p.Temperature != nil {
		if err := checkRange(desc, "temperature", *p.Temperature, desc.Bounds.Temperature); err != nil {
			return err
		}
	}
	if p.MaxTokens != nil {
		if err := checkMaxTokens(desc, modelID, *p.MaxTokens); err != nil {
			return err
		}
	}
	if p.TopP != nil {
		if err := checkRange(desc, "top_p", *p.TopP, desc.Bounds.TopP); err != nil {
			return err
		}
	}
	if p.TopK != nil {
		if err := checkRange(desc, "top_k", float64(*p.TopK), desc.Bounds.TopK); err != nil {
			return err
		}
	}
	if p.FrequencyPenalty != nil {
		if err := checkRange(desc, "frequency_penalty", *p.FrequencyPenalty, desc.Bounds.FrequencyPenalty); err != nil {
			return err
		}
	}
	if p.PresencePenalty != nil {
		if err := checkRange(desc, "presence_penalty", *p.PresencePenalty, desc.Bounds.PresencePenalty); err != nil {
			return err
		}
	}
	return nil
}

func checkRange(desc catalog.Descriptor, field string, value float64, bounds *catalog.Range) error {
	if bounds == nil {
		return &ValidationError{Field: field, Value: value, Unsupported: true, Provider: desc.Name}
	}
	if !bounds.Contains(value) {
		return &ValidationError{Field: field, Value: value, Range: *bounds, Provider: desc.Name}
	}
	return nil
}

func checkMaxTokens(desc catalog.Descriptor, modelID string, value int) error {
	ceiling := 0
	if m, ok := desc.Model(modelID); ok {
		ceiling = m.MaxOutputTokens
	}
	if ceiling == 0 {
		// Self-hosted or undeclared model: only require a positive value.
		if value <= 0 {
			return &ValidationError{Field: "max_tokens", Value: float64(value), Range: catalog.Range{Min: 1, Max: float64(int(^uint(0) >> 1))}, Provider: desc.Name}
		}
		return nil
	}
	allowed := catalog.Range{Min: 1, Max: float64(ceiling)}
	if value < 1 || value > ceiling {
		return &ValidationError{Field: "max_tokens", Value: float64(value), Range: allowed, Provider: desc.Name}
	}
	return nil
}
