package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mtkaczyk/npemctl/internal/api/models"
	"github.com/mtkaczyk/npemctl/internal/registry"
)

// domainToAPIDevice converts a registry snapshot to the API model.
func domainToAPIDevice(info registry.DeviceInfo) models.DeviceData {
	return models.DeviceData{
		Address:   info.Address,
		Label:     info.Label,
		Backend:   info.Backend,
		Supported: info.Supported,
	}
}

// registerDeviceRoutes registers device listing endpoints.
func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List all NPEM-capable PCI devices with their selected control channel and supported indications",
		Tags:        []string{"devices"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.DeviceListResponse, error) {
		infos := s.service.Devices()
		devices := make([]models.DeviceData, 0, len(infos))
		for _, info := range infos {
			devices = append(devices, domainToAPIDevice(info))
		}
		return &models.DeviceListResponse{
			Body: models.DeviceListData{
				Devices: devices,
				Count:   len(devices),
			},
		}, nil
	})
}
