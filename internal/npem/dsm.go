package npem

import (
	"context"
	"encoding/binary"
	"fmt"
)

// _DSM function ids for the PCIe SSD status LED method
// (PCI Firmware Specification r3.3 sec 4.7).
const (
	dsmGetSupportedStates uint64 = 1
	dsmGetState           uint64 = 2
	dsmSetState           uint64 = 3
)

// _DSM status codes shared by all three functions.
const (
	dsmStatusSuccess     = 0
	dsmStatusUnsupported = 1
	dsmStatusInvalid     = 2
	dsmStatusCommError   = 3
	dsmStatusFunctionErr = 4
	dsmStatusVendorErr   = 5
	dsmStatusPartial     = 6 // request accepted, some bits not realized
)

// dsmOutput is the structured reply buffer: status, a function-specific
// error byte, a vendor-specific error byte and the 32-bit state.
type dsmOutput struct {
	status      uint16
	functionErr uint8
	vendorErr   uint8
	state       uint32
}

func parseDSMOutput(buf []byte) (dsmOutput, error) {
	if len(buf) < 8 {
		return dsmOutput{}, NewError(ErrCodeBackendRejected,
			fmt.Sprintf("short firmware reply: %d bytes", len(buf)), nil)
	}
	return dsmOutput{
		status:      binary.LittleEndian.Uint16(buf[0:2]),
		functionErr: buf[2],
		vendorErr:   buf[3],
		state:       binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// MethodBackend drives indications through the firmware method. The call is
// synchronous and carries its own status code, so there is no completion
// poll. Callers must have verified the method exists (FirmwareMethod.Probe)
// before selecting this backend.
type MethodBackend struct {
	fw FirmwareMethod
}

// NewMethodBackend creates a method backend over the probed firmware method.
func NewMethodBackend(fw FirmwareMethod) *MethodBackend {
	return &MethodBackend{fw: fw}
}

// Supported returns the catalog subset of the capability word minus the
// disabled indication, which the firmware specification does not define.
func (b *MethodBackend) Supported(capWord uint32) uint32 {
	return capWord & CatalogMask() &^ BitDisabled
}

// QuerySupported asks firmware for its own capability word. Used at session
// creation instead of the register capability word, since the two channels
// may advertise different subsets.
func (b *MethodBackend) QuerySupported(ctx context.Context) (uint32, error) {
	out, err := b.invoke(ctx, dsmGetSupportedStates, 0)
	if err != nil {
		return 0, err
	}
	return out.state, nil
}

// GetActive reads the current state through the firmware method.
func (b *MethodBackend) GetActive(ctx context.Context) (uint32, error) {
	out, err := b.invoke(ctx, dsmGetState, 0)
	if err != nil {
		return 0, err
	}
	return out.state &^ (bitEnable | bitReset), nil
}

// SetActive requests mask and returns the state firmware reports after the
// call. A partially-applied status is not an error: the reply state is
// authoritative over what was requested.
func (b *MethodBackend) SetActive(ctx context.Context, mask uint32) (uint32, error) {
	out, err := b.invoke(ctx, dsmSetState, mask)
	if err != nil {
		return 0, err
	}
	if out.status == dsmStatusPartial {
		// The set reply may predate the clamping decision; read back.
		return b.GetActive(ctx)
	}
	return out.state &^ (bitEnable | bitReset), nil
}

// invoke calls a firmware function and maps its status taxonomy onto the
// package error codes. Success and partial-apply both return the parsed
// output; everything else is an error.
func (b *MethodBackend) invoke(ctx context.Context, fn uint64, arg uint32) (dsmOutput, error) {
	buf, err := b.fw.Invoke(ctx, fn, arg)
	if err != nil {
		return dsmOutput{}, NewError(ErrCodeTransport, "firmware method invocation failed", err)
	}

	out, err := parseDSMOutput(buf)
	if err != nil {
		return dsmOutput{}, err
	}

	switch out.status {
	case dsmStatusSuccess, dsmStatusPartial:
		return out, nil
	case dsmStatusUnsupported:
		return dsmOutput{}, NewError(ErrCodeUnsupported, "firmware reports function not supported", nil)
	case dsmStatusInvalid:
		return dsmOutput{}, NewError(ErrCodeBackendRejected, "firmware rejected input parameters", nil)
	case dsmStatusCommError:
		return dsmOutput{}, NewError(ErrCodeTransport, "firmware communication error", nil)
	case dsmStatusFunctionErr:
		return dsmOutput{}, NewError(ErrCodeBackendRejected,
			fmt.Sprintf("function-specific error 0x%02x", out.functionErr), nil)
	case dsmStatusVendorErr:
		return dsmOutput{}, NewError(ErrCodeBackendRejected,
			fmt.Sprintf("vendor-specific error 0x%02x", out.vendorErr), nil)
	default:
		return dsmOutput{}, NewError(ErrCodeBackendRejected,
			fmt.Sprintf("unknown firmware status 0x%x", out.status), nil)
	}
}
