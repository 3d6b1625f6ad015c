package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"modelgate/internal/catalog"
)

type providerSummary struct {
	Name            string         `json:"name"`
	Dialect         string         `json:"dialect"`
	DefaultEndpoint string         `json:"default_endpoint"`
	OpenModelList   bool           `json:"open_model_list"`
	Models          []modelSummary `json:"models"`
}

type modelSummary struct {
	ID              string `json:"id"`
	ContextWindow   int    `json:"context_window"`
	MaxOutputTokens int    `json:"max_output_tokens"`
}

// handleListProviders serves the static provider table. The response is
// cache-wrapped with the long freshness window: the table only changes on
// deploy.
func (s *Server) handleListProviders(c echo.Context) error {
	descriptors := catalog.Providers()
	out := make([]providerSummary, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, toProviderSummary(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListModels(c echo.Context) error {
	desc, err := catalog.Describe(c.Param("provider"))
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownProvider) {
			return requestError{
				Status:  http.StatusNotFound,
				Message: err.Error(),
				Kind:    "invalid-request",
			}
		}
		return err
	}

	out := make([]modelSummary, 0, len(desc.Models))
	for _, m := range desc.Models {
		out = append(out, toModelSummary(m))
	}
	return c.JSON(http.StatusOK, out)
}

func toProviderSummary(d catalog.Descriptor) providerSummary {
	summary := providerSummary{
		Name:            d.Name,
		Dialect:         string(d.Dialect),
		DefaultEndpoint: d.DefaultEndpoint,
		OpenModelList:   d.OpenModelList,
		Models:          make([]modelSummary, 0, len(d.Models)),
	}
	for _, m := range d.Models {
		summary.Models = append(summary.Models, toModelSummary(m))
	}
	return summary
}

func toModelSummary(m catalog.ModelInfo) modelSummary {
	return modelSummary{
		ID:              m.ID,
		ContextWindow:   m.ContextWindow,
		MaxOutputTokens: m.MaxOutputTokens,
	}
}
