package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DeviceSettings carries per-device configuration keyed by PCI address.
type DeviceSettings struct {
	// Label is an operator-friendly name shown alongside the PCI address.
	Label string `toml:"label"`
	// Ignore excludes the device from enclosure management entirely.
	Ignore bool `toml:"ignore"`
}

// DeviceConfig is the `[devices]` section of the configuration file.
type DeviceConfig struct {
	Devices map[string]DeviceSettings `toml:"devices"`
}

// LoadDeviceConfig loads per-device settings from a TOML config file.
// A missing file is not an error; it yields an empty config so that
// running without a config file works out of the box.
func LoadDeviceConfig(path string) (DeviceConfig, error) {
	cfg := DeviceConfig{Devices: make(map[string]DeviceSettings)}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse device config: %w", err)
	}
	if cfg.Devices == nil {
		cfg.Devices = make(map[string]DeviceSettings)
	}
	return cfg, nil
}

// Ignored reports whether the given PCI address is configured to be skipped.
func (c DeviceConfig) Ignored(address string) bool {
	return c.Devices[address].Ignore
}

// Label returns the configured label for the address, or the address itself.
func (c DeviceConfig) Label(address string) string {
	if s, ok := c.Devices[address]; ok && s.Label != "" {
		return s.Label
	}
	return address
}
