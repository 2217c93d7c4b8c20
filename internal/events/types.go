package events

// Event type constants for kelindar/event.
const (
	TypeIndicationChanged uint32 = iota + 1
	TypeCommandTimeout
	TypeDeviceAdded
	TypeDeviceRemoved
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// IndicationChangedEvent represents a successfully applied indication change.
type IndicationChangedEvent struct {
	Device     string `json:"device" example:"0000:af:00.0" doc:"PCI device address"`
	Indication string `json:"indication" example:"locate" doc:"Indication name"`
	Active     bool   `json:"active" example:"true" doc:"New on/off state"`
	Timestamp  string `json:"timestamp" example:"2026-08-31T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for IndicationChangedEvent.
func (e IndicationChangedEvent) Type() uint32 { return TypeIndicationChanged }

// CommandTimeoutEvent represents an indication command whose completion poll
// deadline elapsed. The command outcome on the device is unknown.
type CommandTimeoutEvent struct {
	Device     string `json:"device" example:"0000:af:00.0" doc:"PCI device address"`
	Indication string `json:"indication" example:"fail" doc:"Indication name"`
	Timestamp  string `json:"timestamp" example:"2026-08-31T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CommandTimeoutEvent.
func (e CommandTimeoutEvent) Type() uint32 { return TypeCommandTimeout }

// DeviceAddedEvent represents a device gaining an indication session.
type DeviceAddedEvent struct {
	Device    string   `json:"device" example:"0000:af:00.0" doc:"PCI device address"`
	Backend   string   `json:"backend" example:"npem" doc:"Selected control channel: npem or dsm"`
	Supported []string `json:"supported" doc:"Supported indication names"`
	Timestamp string   `json:"timestamp" example:"2026-08-31T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceAddedEvent.
func (e DeviceAddedEvent) Type() uint32 { return TypeDeviceAdded }

// DeviceRemovedEvent represents a device losing its indication session.
type DeviceRemovedEvent struct {
	Device    string `json:"device" example:"0000:af:00.0" doc:"PCI device address"`
	Timestamp string `json:"timestamp" example:"2026-08-31T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceRemovedEvent.
func (e DeviceRemovedEvent) Type() uint32 { return TypeDeviceRemoved }
