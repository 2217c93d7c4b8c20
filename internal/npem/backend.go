package npem

import "context"

// Backend abstracts the low-level indication control channel. Exactly two
// implementations exist: the NPEM capability register block (RegisterBackend)
// and the PCIe SSD status LED firmware method (MethodBackend). One of them is
// selected per device at session creation and never changes afterwards.
type Backend interface {
	// Supported returns the subset of the capability word this backend
	// recognizes as controllable indications. Pure; performs no I/O.
	Supported(capWord uint32) uint32

	// GetActive reads the currently asserted indication mask from hardware.
	GetActive(ctx context.Context) (uint32, error)

	// SetActive asks hardware to assert exactly mask and returns the mask
	// hardware actually accepted, which may differ from the request: the
	// device is permitted to clamp or reject bit combinations.
	SetActive(ctx context.Context, mask uint32) (uint32, error)
}

// ConfigSpace gives dword-granular access into one device's PCI config
// space. Offsets are absolute within the 4KB extended config space. Errors
// are transport errors of the underlying access path and are translated by
// the backends; they never reach callers raw.
type ConfigSpace interface {
	ReadDword(offset int) (uint32, error)
	WriteDword(offset int, value uint32) error
}

// FirmwareMethod is the firmware call indirection used only by the method
// backend. Probe must be consulted before the method backend is selected;
// a false result means the backend is not applicable, not that an error
// occurred.
type FirmwareMethod interface {
	Probe() bool

	// Invoke calls firmware function fn with arg and returns the raw reply
	// buffer. The reply layout is function specific; for the status LED
	// functions it is the 8-byte structured output parsed by the method
	// backend.
	Invoke(ctx context.Context, fn uint64, arg uint32) ([]byte, error)
}
