package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mtkaczyk/npemctl/internal/api/models"
	"github.com/mtkaczyk/npemctl/internal/events"
	"github.com/mtkaczyk/npemctl/internal/npem"
)

// DeviceIndicationsInput identifies one device.
type DeviceIndicationsInput struct {
	Address string `path:"address" example:"0000:af:00.0" doc:"PCI device address"`
}

// IndicationInput identifies one device indication.
type IndicationInput struct {
	Address string `path:"address" example:"0000:af:00.0" doc:"PCI device address"`
	Name    string `path:"name" example:"locate" doc:"Indication name"`
}

// SetIndicationInput carries the requested indication state.
type SetIndicationInput struct {
	Address string `path:"address" example:"0000:af:00.0" doc:"PCI device address"`
	Name    string `path:"name" example:"locate" doc:"Indication name"`
	Body    struct {
		Active bool `json:"active" example:"true" doc:"Whether the indication should be asserted"`
	}
}

// mapIndicationError translates controller error codes to HTTP errors.
func mapIndicationError(message string, err error) error {
	switch npem.CodeOf(err) {
	case npem.ErrCodeTimeout:
		return huma.Error504GatewayTimeout(message, err)
	case npem.ErrCodeUnsupported:
		return huma.Error404NotFound(message, err)
	case npem.ErrCodeInterrupted:
		return huma.Error503ServiceUnavailable(message, err)
	case npem.ErrCodeTransport, npem.ErrCodeBackendRejected:
		return huma.Error502BadGateway(message, err)
	default:
		return huma.Error500InternalServerError(message, err)
	}
}

// registerIndicationRoutes registers per-device indication endpoints.
func (s *Server) registerIndicationRoutes() {
	// List a device's indications with current state
	huma.Register(s.api, huma.Operation{
		OperationID: "list-indications",
		Method:      http.MethodGet,
		Path:        "/api/devices/{address}/indications",
		Summary:     "List Indications",
		Description: "List all supported indications of a device with their current state",
		Tags:        []string{"indications"},
		Errors:      []int{401, 404, 502, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *DeviceIndicationsInput) (*models.IndicationListResponse, error) {
		var supported []string
		for _, info := range s.service.Devices() {
			if info.Address == input.Address {
				supported = info.Supported
				break
			}
		}
		if supported == nil {
			return nil, huma.Error404NotFound("Device not found")
		}

		indications := make([]models.IndicationData, 0, len(supported))
		for _, name := range supported {
			toggle, ok := s.service.IndicationToggle(input.Address, name)
			if !ok {
				continue
			}
			active, err := toggle.Get(ctx)
			if err != nil {
				return nil, mapIndicationError("Failed to read indication state", err)
			}
			indications = append(indications, models.IndicationData{
				Name:   name,
				Active: active,
			})
		}

		return &models.IndicationListResponse{
			Body: models.IndicationListData{
				Device:      input.Address,
				Indications: indications,
			},
		}, nil
	})

	// Get one indication's state
	huma.Register(s.api, huma.Operation{
		OperationID: "get-indication",
		Method:      http.MethodGet,
		Path:        "/api/devices/{address}/indications/{name}",
		Summary:     "Get Indication",
		Description: "Get the current state of one indication",
		Tags:        []string{"indications"},
		Errors:      []int{401, 404, 502, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *IndicationInput) (*models.IndicationStateResponse, error) {
		toggle, ok := s.service.IndicationToggle(input.Address, input.Name)
		if !ok {
			return nil, huma.Error404NotFound("Indication not found")
		}

		active, err := toggle.Get(ctx)
		if err != nil {
			return nil, mapIndicationError("Failed to read indication state", err)
		}

		return &models.IndicationStateResponse{
			Body: models.IndicationStateData{
				Device:     input.Address,
				Indication: input.Name,
				Active:     active,
			},
		}, nil
	})

	// Set one indication
	huma.Register(s.api, huma.Operation{
		OperationID: "set-indication",
		Method:      http.MethodPut,
		Path:        "/api/devices/{address}/indications/{name}",
		Summary:     "Set Indication",
		Description: "Assert or deassert one indication. May block until the device acknowledges the command.",
		Tags:        []string{"indications"},
		Errors:      []int{401, 404, 502, 503, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *SetIndicationInput) (*models.IndicationStateResponse, error) {
		toggle, ok := s.service.IndicationToggle(input.Address, input.Name)
		if !ok {
			return nil, huma.Error404NotFound("Indication not found")
		}

		if err := toggle.Set(ctx, input.Body.Active); err != nil {
			if s.bus != nil && npem.CodeOf(err) == npem.ErrCodeTimeout {
				s.bus.Publish(events.CommandTimeoutEvent{
					Device:     input.Address,
					Indication: input.Name,
					Timestamp:  time.Now().UTC().Format(time.RFC3339),
				})
			}
			return nil, mapIndicationError("Failed to set indication", err)
		}

		// The backend may accept a different subset than requested, so the
		// response reports the state actually read back.
		active, err := toggle.Get(ctx)
		if err != nil {
			return nil, mapIndicationError("Failed to read indication state", err)
		}

		if s.bus != nil {
			s.bus.Publish(events.IndicationChangedEvent{
				Device:     input.Address,
				Indication: input.Name,
				Active:     active,
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
			})
		}

		return &models.IndicationStateResponse{
			Body: models.IndicationStateData{
				Device:     input.Address,
				Indication: input.Name,
				Active:     active,
			},
		}, nil
	})
}
