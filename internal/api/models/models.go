package models

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	Commit    string `json:"commit" example:"abc123" doc:"Git commit hash"`
	Date      string `json:"date" example:"2026-08-31" doc:"Build date"`
	GoVersion string `json:"go_version" example:"go1.24" doc:"Go version used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Device models
type DeviceData struct {
	Address   string   `json:"address" example:"0000:af:00.0" doc:"PCI device address"`
	Label     string   `json:"label" example:"front bay 1" doc:"Configured device label"`
	Backend   string   `json:"backend" example:"npem" doc:"Selected control channel: npem or dsm"`
	Supported []string `json:"supported" doc:"Supported indication names"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Managed NPEM-capable devices"`
	Count   int          `json:"count" example:"2" doc:"Number of managed devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// Indication models
type IndicationData struct {
	Name   string `json:"name" example:"locate" doc:"Indication name"`
	Active bool   `json:"active" example:"false" doc:"Whether the indication is asserted"`
}

type IndicationListData struct {
	Device      string           `json:"device" example:"0000:af:00.0" doc:"PCI device address"`
	Indications []IndicationData `json:"indications" doc:"Supported indications with current state"`
}

type IndicationListResponse struct {
	Body IndicationListData
}

type IndicationStateData struct {
	Device     string `json:"device" example:"0000:af:00.0" doc:"PCI device address"`
	Indication string `json:"indication" example:"locate" doc:"Indication name"`
	Active     bool   `json:"active" example:"true" doc:"Whether the indication is asserted"`
}

type IndicationStateResponse struct {
	Body IndicationStateData
}
