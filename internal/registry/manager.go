// Package registry tracks NPEM-capable PCI devices and the indication
// toggles registered for them. It owns the device sessions: rescans discover
// new devices, departed devices are torn down, and every live toggle is
// reachable by its stable name.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtkaczyk/npemctl/internal/config"
	"github.com/mtkaczyk/npemctl/internal/events"
	"github.com/mtkaczyk/npemctl/internal/logging"
	"github.com/mtkaczyk/npemctl/internal/npem"
	"github.com/mtkaczyk/npemctl/internal/pci"
)

// FirmwareProvider returns the firmware method channel for a device address,
// or nil when the platform offers none.
type FirmwareProvider func(address string) npem.FirmwareMethod

// DeviceInfo is a snapshot of one managed device.
type DeviceInfo struct {
	Address   string
	Label     string
	Backend   string
	Supported []string
}

// entry is the per-device state the manager owns: the session plus the
// config space handle kept open for the session's lifetime.
type entry struct {
	session   *npem.Session
	cfgSpace  *pci.ConfigSpace
	backend   string
	supported uint32
}

// Manager discovers NPEM-capable devices under a sysfs root and keeps one
// session per device. It implements npem.Registrar so sessions hand their
// toggles straight back to it.
type Manager struct {
	root    string
	bus     *events.Bus
	metrics *npem.Metrics
	fw      FirmwareProvider
	logger  logging.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	devCfg  config.DeviceConfig

	togglesMu sync.RWMutex
	toggles   map[string]*npem.Toggle
}

// NewManager creates a device manager. bus, metrics and fw may be nil.
func NewManager(root string, bus *events.Bus, metrics *npem.Metrics, fw FirmwareProvider) *Manager {
	return &Manager{
		root:    root,
		bus:     bus,
		metrics: metrics,
		fw:      fw,
		logger:  logging.GetLogger("registry"),
		entries: make(map[string]*entry),
		devCfg:  config.DeviceConfig{Devices: make(map[string]config.DeviceSettings)},
		toggles: make(map[string]*npem.Toggle),
	}
}

// Register implements npem.Registrar. Toggle names are globally unique;
// a duplicate means two sessions claimed the same device.
func (m *Manager) Register(t *npem.Toggle) error {
	m.togglesMu.Lock()
	defer m.togglesMu.Unlock()
	if _, exists := m.toggles[t.Name()]; exists {
		return fmt.Errorf("toggle %q already registered", t.Name())
	}
	m.toggles[t.Name()] = t
	return nil
}

// Unregister implements npem.Registrar.
func (m *Manager) Unregister(t *npem.Toggle) {
	m.togglesMu.Lock()
	defer m.togglesMu.Unlock()
	delete(m.toggles, t.Name())
}

// Toggle looks up a registered toggle by its full name.
func (m *Manager) Toggle(name string) (*npem.Toggle, bool) {
	m.togglesMu.RLock()
	defer m.togglesMu.RUnlock()
	t, ok := m.toggles[name]
	return t, ok
}

// IndicationToggle looks up the toggle for one device's indication.
func (m *Manager) IndicationToggle(address, indication string) (*npem.Toggle, bool) {
	return m.Toggle(address + ":enclosure:" + indication)
}

// Devices returns a sorted snapshot of all managed devices.
func (m *Manager) Devices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(m.entries))
	for addr, e := range m.entries {
		infos = append(infos, DeviceInfo{
			Address:   addr,
			Label:     m.devCfg.Label(addr),
			Backend:   e.backend,
			Supported: npem.Names(e.supported),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Address < infos[j].Address
	})
	return infos
}

// ApplyDeviceConfig installs new per-device settings. Devices that became
// ignored are torn down immediately; newly unignored ones appear on the
// next rescan.
func (m *Manager) ApplyDeviceConfig(cfg config.DeviceConfig) {
	m.mu.Lock()
	m.devCfg = cfg
	var removed []string
	for addr, e := range m.entries {
		if cfg.Ignored(addr) {
			m.teardownLocked(addr, e)
			removed = append(removed, addr)
		}
	}
	m.mu.Unlock()

	for _, addr := range removed {
		m.logger.Info("Device ignored by config, session closed", "device", addr)
		m.publishRemoved(addr)
	}
}

// Rescan walks the sysfs root, opens sessions for newly appeared
// NPEM-capable devices and tears down sessions for departed ones.
func (m *Manager) Rescan(ctx context.Context) error {
	devices, err := pci.List(m.root)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(devices))

	var added []events.DeviceAddedEvent
	var removed []string

	m.mu.Lock()
	for _, dev := range devices {
		seen[dev.Address] = true
		if _, exists := m.entries[dev.Address]; exists {
			continue
		}
		if m.devCfg.Ignored(dev.Address) {
			continue
		}

		e, openErr := m.openDevice(ctx, dev)
		if openErr != nil {
			if npem.CodeOf(openErr) != npem.ErrCodeUnsupported {
				m.logger.Warn("Failed to open device session",
					"device", dev.Address, "error", openErr)
			}
			continue
		}
		if e == nil {
			continue // no NPEM capability, no firmware method
		}

		m.entries[dev.Address] = e
		added = append(added, events.DeviceAddedEvent{
			Device:    dev.Address,
			Backend:   e.backend,
			Supported: npem.Names(e.supported),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}

	for addr, e := range m.entries {
		if seen[addr] {
			continue
		}
		m.teardownLocked(addr, e)
		removed = append(removed, addr)
	}
	m.mu.Unlock()

	for _, ev := range added {
		m.logger.Info("Device session opened",
			"device", ev.Device, "backend", ev.Backend, "indications", len(ev.Supported))
		if m.bus != nil {
			m.bus.Publish(ev)
		}
	}
	for _, addr := range removed {
		m.logger.Info("Device departed, session closed", "device", addr)
		m.publishRemoved(addr)
	}

	return nil
}

// openDevice probes one device for indication control channels and opens a
// session when at least one is usable. Returns (nil, nil) when the device
// simply has nothing to manage.
func (m *Manager) openDevice(ctx context.Context, dev pci.Device) (*entry, error) {
	cfgSpace, err := dev.OpenConfig()
	if err != nil {
		return nil, err
	}

	sessionCfg := npem.SessionConfig{
		Device:    dev.Address,
		Registrar: m,
		Metrics:   m.metrics,
	}

	capPos, capFound, findErr := pci.FindExtCapability(cfgSpace, pci.ExtCapIDNPEM)
	if findErr != nil {
		cfgSpace.Close()
		return nil, findErr
	}
	if capFound {
		capWord, readErr := npem.ReadCapabilityWord(cfgSpace, capPos)
		if readErr != nil {
			cfgSpace.Close()
			return nil, readErr
		}
		sessionCfg.Config = cfgSpace
		sessionCfg.CapPos = capPos
		sessionCfg.CapWord = capWord
	}

	if m.fw != nil {
		sessionCfg.Firmware = m.fw(dev.Address)
	}

	if sessionCfg.Config == nil && sessionCfg.Firmware == nil {
		cfgSpace.Close()
		return nil, nil
	}

	session, openErr := npem.Open(ctx, sessionCfg)
	if openErr != nil {
		cfgSpace.Close()
		return nil, openErr
	}

	return &entry{
		session:   session,
		cfgSpace:  cfgSpace,
		backend:   session.Controller().BackendName(),
		supported: session.Controller().Supported(),
	}, nil
}

// teardownLocked closes one device's session and resources. Caller holds mu.
func (m *Manager) teardownLocked(addr string, e *entry) {
	e.session.Close()
	if e.cfgSpace != nil {
		e.cfgSpace.Close()
	}
	delete(m.entries, addr)
}

func (m *Manager) publishRemoved(addr string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.DeviceRemovedEvent{
		Device:    addr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Run rescans immediately and then at every interval tick until the context
// is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if err := m.Rescan(ctx); err != nil {
		m.logger.Error("Initial device scan failed", "error", err)
	}

	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Rescan(ctx); err != nil {
				m.logger.Warn("Device rescan failed", "error", err)
			}
		}
	}
}

// Close tears down every session. Used at shutdown; no removal events are
// published.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, e := range m.entries {
		m.teardownLocked(addr, e)
	}
}
