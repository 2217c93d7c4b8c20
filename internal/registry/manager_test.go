package registry

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtkaczyk/npemctl/internal/config"
	"github.com/mtkaczyk/npemctl/internal/events"
	"github.com/mtkaczyk/npemctl/internal/npem"
	"github.com/mtkaczyk/npemctl/internal/pci"
)

const (
	extCapOffset = 0x100
	capNPEMable  = uint32(1) // capability register bit 0
)

// writeDevice creates one sysfs device directory with a 4KB config space
// file. The standard header carries a realistic vendor id, command register
// and class code so offset 0 never looks like an NPEM block. When capWord is
// nonzero an NPEM capability block is placed at extCapOffset with the status
// register reporting command completed.
func writeDevice(t *testing.T, root, addr string, capWord uint32) {
	t.Helper()
	dir := filepath.Join(root, addr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4096)
	binary.LittleEndian.PutUint32(buf[0x00:], 0xa80a8086) // vendor/device id
	binary.LittleEndian.PutUint32(buf[0x04:], 0x00100007) // command: io+mem+busmaster
	binary.LittleEndian.PutUint32(buf[0x08:], 0x01080200) // NVMe class code
	if capWord != 0 {
		binary.LittleEndian.PutUint32(buf[extCapOffset:], uint32(pci.ExtCapIDNPEM))
		binary.LittleEndian.PutUint32(buf[extCapOffset+0x04:], capWord)
		binary.LittleEndian.PutUint32(buf[extCapOffset+0x0c:], 1)
	}
	if err := os.WriteFile(filepath.Join(dir, "config"), buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func readCtrl(t *testing.T, root, addr string) uint32 {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, addr, "config"))
	if err != nil {
		t.Fatal(err)
	}
	return binary.LittleEndian.Uint32(data[extCapOffset+0x08:])
}

// fakeFirmware is an in-memory _DSM style control channel.
type fakeFirmware struct {
	present   bool
	supported uint32
	state     uint32
}

func (f *fakeFirmware) Probe() bool { return f.present }

func (f *fakeFirmware) Invoke(_ context.Context, fn uint64, arg uint32) ([]byte, error) {
	var state uint32
	switch fn {
	case 1: // supported states
		state = f.supported
	case 2: // get state
		state = f.state
	case 3: // set state
		f.state = arg
		state = arg
	}
	reply := make([]byte, 8)
	binary.LittleEndian.PutUint32(reply[4:], state)
	return reply, nil
}

func TestRescanDiscoversNPEMDevice(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "0000:03:00.0", capNPEMable|npem.BitOK|npem.BitLocate|npem.BitFail)
	writeDevice(t, root, "0000:04:00.0", 0) // no capability

	bus := events.New()
	added := make(chan events.DeviceAddedEvent, 1)
	defer bus.Subscribe(func(e events.DeviceAddedEvent) { added <- e })()

	m := NewManager(root, bus, nil, nil)
	defer m.Close()

	if err := m.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}

	devices := m.Devices()
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	if devices[0].Address != "0000:03:00.0" {
		t.Errorf("Address = %q", devices[0].Address)
	}
	if devices[0].Backend != "npem" {
		t.Errorf("Backend = %q, want npem", devices[0].Backend)
	}
	wantSupported := []string{"ok", "locate", "fail"}
	if len(devices[0].Supported) != len(wantSupported) {
		t.Fatalf("Supported = %v, want %v", devices[0].Supported, wantSupported)
	}
	for i, name := range wantSupported {
		if devices[0].Supported[i] != name {
			t.Errorf("Supported[%d] = %q, want %q", i, devices[0].Supported[i], name)
		}
	}

	select {
	case ev := <-added:
		if ev.Device != "0000:03:00.0" || ev.Backend != "npem" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for device added event")
	}

	if _, ok := m.IndicationToggle("0000:03:00.0", "locate"); !ok {
		t.Error("locate toggle not registered")
	}
	if _, ok := m.IndicationToggle("0000:03:00.0", "rebuild"); ok {
		t.Error("rebuild toggle registered but not supported")
	}
	if _, ok := m.IndicationToggle("0000:04:00.0", "ok"); ok {
		t.Error("toggle registered for device without capability")
	}
}

func TestRescanSkipsDeviceWithoutCapability(t *testing.T) {
	root := t.TempDir()
	// A live device with no extended capabilities at all. Its command
	// register has bit 0 set, so mistaking the standard header for a
	// capability block would make it look like an enabled NPEM device.
	writeDevice(t, root, "0000:02:00.0", 0)

	m := NewManager(root, nil, nil, nil)
	defer m.Close()

	if err := m.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}

	if devices := m.Devices(); len(devices) != 0 {
		t.Fatalf("managed %d devices without the capability: %+v", len(devices), devices)
	}
}

func TestRescanIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "0000:03:00.0", capNPEMable|npem.BitOK)

	m := NewManager(root, nil, nil, nil)
	defer m.Close()

	ctx := context.Background()
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(m.Devices()); got != 1 {
		t.Errorf("got %d devices after double rescan, want 1", got)
	}
}

func TestToggleRoundTrip(t *testing.T) {
	root := t.TempDir()
	addr := "0000:03:00.0"
	writeDevice(t, root, addr, capNPEMable|npem.BitOK|npem.BitLocate)

	m := NewManager(root, nil, nil, nil)
	defer m.Close()

	ctx := context.Background()
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}

	toggle, ok := m.IndicationToggle(addr, "locate")
	if !ok {
		t.Fatal("locate toggle missing")
	}

	if err := toggle.Set(ctx, true); err != nil {
		t.Fatal(err)
	}

	ctrl := readCtrl(t, root, addr)
	if ctrl&npem.BitLocate == 0 {
		t.Errorf("control register %#x missing locate bit", ctrl)
	}
	if ctrl&1 == 0 {
		t.Errorf("control register %#x missing enable bit", ctrl)
	}

	on, err := toggle.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("locate should read back asserted")
	}
}

func TestRescanRemovesDepartedDevice(t *testing.T) {
	root := t.TempDir()
	addr := "0000:03:00.0"
	writeDevice(t, root, addr, capNPEMable|npem.BitOK)

	bus := events.New()
	removed := make(chan events.DeviceRemovedEvent, 1)
	defer bus.Subscribe(func(e events.DeviceRemovedEvent) { removed <- e })()

	m := NewManager(root, bus, nil, nil)
	defer m.Close()

	ctx := context.Background()
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	if len(m.Devices()) != 1 {
		t.Fatal("device not discovered")
	}

	if err := os.RemoveAll(filepath.Join(root, addr)); err != nil {
		t.Fatal(err)
	}
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(m.Devices()); got != 0 {
		t.Errorf("got %d devices after departure, want 0", got)
	}
	if _, ok := m.IndicationToggle(addr, "ok"); ok {
		t.Error("toggle still registered after departure")
	}

	select {
	case ev := <-removed:
		if ev.Device != addr {
			t.Errorf("removed event device = %q", ev.Device)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for device removed event")
	}
}

func TestApplyDeviceConfig(t *testing.T) {
	root := t.TempDir()
	addr := "0000:03:00.0"
	writeDevice(t, root, addr, capNPEMable|npem.BitOK)

	m := NewManager(root, nil, nil, nil)
	defer m.Close()

	ctx := context.Background()
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}

	// Label shows up in snapshots.
	m.ApplyDeviceConfig(config.DeviceConfig{Devices: map[string]config.DeviceSettings{
		addr: {Label: "front bay 1"},
	}})
	if got := m.Devices()[0].Label; got != "front bay 1" {
		t.Errorf("Label = %q, want front bay 1", got)
	}

	// Ignoring a device tears its session down immediately and keeps it
	// out of later rescans.
	m.ApplyDeviceConfig(config.DeviceConfig{Devices: map[string]config.DeviceSettings{
		addr: {Ignore: true},
	}})
	if got := len(m.Devices()); got != 0 {
		t.Fatalf("got %d devices after ignore, want 0", got)
	}
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(m.Devices()); got != 0 {
		t.Errorf("ignored device reappeared after rescan")
	}
}

func TestDuplicateToggleRegistration(t *testing.T) {
	root := t.TempDir()
	addr := "0000:03:00.0"
	writeDevice(t, root, addr, capNPEMable|npem.BitOK)

	m := NewManager(root, nil, nil, nil)
	defer m.Close()

	if err := m.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}

	toggle, ok := m.IndicationToggle(addr, "ok")
	if !ok {
		t.Fatal("ok toggle missing")
	}
	if err := m.Register(toggle); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestFirmwareMethodPreferred(t *testing.T) {
	root := t.TempDir()
	addr := "0000:03:00.0"
	writeDevice(t, root, addr, capNPEMable|npem.BitOK|npem.BitLocate)

	fw := &fakeFirmware{present: true, supported: npem.BitOK | npem.BitLocate | npem.BitFail}
	m := NewManager(root, nil, nil, func(string) npem.FirmwareMethod { return fw })
	defer m.Close()

	ctx := context.Background()
	if err := m.Rescan(ctx); err != nil {
		t.Fatal(err)
	}

	devices := m.Devices()
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	if devices[0].Backend != "dsm" {
		t.Errorf("Backend = %q, want dsm", devices[0].Backend)
	}

	// Firmware advertises fail even though the register block does not.
	toggle, ok := m.IndicationToggle(addr, "fail")
	if !ok {
		t.Fatal("fail toggle missing on dsm backend")
	}
	if err := toggle.Set(ctx, true); err != nil {
		t.Fatal(err)
	}
	if fw.state&npem.BitFail == 0 {
		t.Errorf("firmware state %#x missing fail bit", fw.state)
	}

	// Register channel was left untouched.
	if ctrl := readCtrl(t, root, addr); ctrl != 0 {
		t.Errorf("control register written %#x on dsm backend", ctrl)
	}
}

func TestFirmwareOnlyDevice(t *testing.T) {
	root := t.TempDir()
	addr := "0000:05:00.0"
	writeDevice(t, root, addr, 0) // no NPEM capability block

	fw := &fakeFirmware{present: true, supported: npem.BitOK}
	m := NewManager(root, nil, nil, func(string) npem.FirmwareMethod { return fw })
	defer m.Close()

	if err := m.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}

	devices := m.Devices()
	if len(devices) != 1 || devices[0].Backend != "dsm" {
		t.Fatalf("devices = %+v, want one dsm device", devices)
	}
}
