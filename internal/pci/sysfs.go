// Package pci provides sysfs-backed access to PCI devices: enumeration,
// dword config space access and the extended capability walk the NPEM
// session layer discovers its capability block with.
package pci

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultRoot is where the kernel exposes PCI devices.
const DefaultRoot = "/sys/bus/pci/devices"

// Device is one enumerated PCI device.
type Device struct {
	// Address is the domain:bus:device.function identifier, e.g.
	// "0000:af:00.0".
	Address string

	configPath string
}

// List enumerates the PCI devices under root. Addresses are returned in
// stable sorted order.
func List(root string) ([]Device, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCI device directory: %w", err)
	}

	devices := make([]Device, 0, len(entries))
	for _, entry := range entries {
		configPath := filepath.Join(root, entry.Name(), "config")
		if _, statErr := os.Stat(configPath); statErr != nil {
			continue
		}
		devices = append(devices, Device{
			Address:    entry.Name(),
			configPath: configPath,
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}

// OpenConfig opens the device's config space for dword access. The caller
// owns the returned handle and must Close it.
func (d Device) OpenConfig() (*ConfigSpace, error) {
	f, err := os.OpenFile(d.configPath, os.O_RDWR, 0)
	if err != nil {
		// Read-only access still allows discovery and get paths.
		f, err = os.Open(d.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config space of %s: %w", d.Address, err)
		}
	}
	return &ConfigSpace{f: f}, nil
}

// ConfigSpace is dword-granular access into one device's config space file.
// Config space registers are little-endian.
type ConfigSpace struct {
	f *os.File
}

// ReadDword reads the 32-bit register at offset.
func (c *ConfigSpace) ReadDword(offset int) (uint32, error) {
	var buf [4]byte
	if _, err := c.f.ReadAt(buf[:], int64(offset)); err != nil {
		return 0, fmt.Errorf("config read at %#x: %w", offset, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteDword writes the 32-bit register at offset.
func (c *ConfigSpace) WriteDword(offset int, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if _, err := c.f.WriteAt(buf[:], int64(offset)); err != nil {
		return fmt.Errorf("config write at %#x: %w", offset, err)
	}
	return nil
}

// Close releases the config space handle.
func (c *ConfigSpace) Close() error {
	return c.f.Close()
}
