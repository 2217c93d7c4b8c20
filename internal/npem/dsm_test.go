package npem

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

// fakeFirmware simulates the firmware method with canned per-function
// replies and a call log.
type fakeFirmware struct {
	present   bool
	replies   map[uint64][]byte
	invokeErr error
	calls     []uint64
	args      []uint32
}

func (f *fakeFirmware) Probe() bool { return f.present }

func (f *fakeFirmware) Invoke(_ context.Context, fn uint64, arg uint32) ([]byte, error) {
	f.calls = append(f.calls, fn)
	f.args = append(f.args, arg)
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.replies[fn], nil
}

// dsmReply builds the 8-byte structured output buffer.
func dsmReply(status uint16, fnErr, vendErr byte, state uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:2], status)
	buf[2] = fnErr
	buf[3] = vendErr
	binary.LittleEndian.PutUint32(buf[4:8], state)
	return buf
}

func TestMethodBackend_SetActive(t *testing.T) {
	fw := &fakeFirmware{
		present: true,
		replies: map[uint64][]byte{
			dsmSetState: dsmReply(dsmStatusSuccess, 0, 0, BitLocate),
		},
	}
	b := NewMethodBackend(fw)

	got, err := b.SetActive(context.Background(), BitLocate)
	if err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}
	if got != BitLocate {
		t.Errorf("SetActive() = %#x, want %#x", got, BitLocate)
	}
	if len(fw.calls) != 1 || fw.calls[0] != dsmSetState || fw.args[0] != BitLocate {
		t.Errorf("firmware called with fn=%v arg=%#x", fw.calls, fw.args)
	}
}

func TestMethodBackend_PartialApplyIsSuccessWithReadBack(t *testing.T) {
	// Firmware accepts the request but realizes only the locate bit; the
	// follow-up state read is authoritative.
	fw := &fakeFirmware{
		present: true,
		replies: map[uint64][]byte{
			dsmSetState: dsmReply(dsmStatusPartial, 0, 0, 0),
			dsmGetState: dsmReply(dsmStatusSuccess, 0, 0, BitLocate),
		},
	}
	b := NewMethodBackend(fw)

	got, err := b.SetActive(context.Background(), BitLocate|BitFail)
	if err != nil {
		t.Fatalf("SetActive() with partial status returned error: %v", err)
	}
	if got != BitLocate {
		t.Errorf("SetActive() = %#x, want read-back %#x", got, BitLocate)
	}
	if len(fw.calls) != 2 || fw.calls[1] != dsmGetState {
		t.Errorf("expected read-back call after partial apply, got %v", fw.calls)
	}
}

func TestMethodBackend_StatusTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		status   uint16
		wantCode string
	}{
		{name: "unsupported", status: dsmStatusUnsupported, wantCode: ErrCodeUnsupported},
		{name: "invalid parameters", status: dsmStatusInvalid, wantCode: ErrCodeBackendRejected},
		{name: "communication error", status: dsmStatusCommError, wantCode: ErrCodeTransport},
		{name: "function specific", status: dsmStatusFunctionErr, wantCode: ErrCodeBackendRejected},
		{name: "vendor specific", status: dsmStatusVendorErr, wantCode: ErrCodeBackendRejected},
		{name: "unknown status", status: 0x7f, wantCode: ErrCodeBackendRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := &fakeFirmware{
				present: true,
				replies: map[uint64][]byte{
					dsmSetState: dsmReply(tt.status, 0x12, 0x34, 0),
				},
			}
			b := NewMethodBackend(fw)

			_, err := b.SetActive(context.Background(), BitLocate)
			if CodeOf(err) != tt.wantCode {
				t.Errorf("SetActive() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestMethodBackend_ShortReply(t *testing.T) {
	fw := &fakeFirmware{
		present: true,
		replies: map[uint64][]byte{dsmGetState: {0, 0}},
	}
	b := NewMethodBackend(fw)

	_, err := b.GetActive(context.Background())
	if CodeOf(err) != ErrCodeBackendRejected {
		t.Errorf("GetActive() with short reply error = %v, want %s", err, ErrCodeBackendRejected)
	}
}

func TestMethodBackend_InvokeFailureIsTransport(t *testing.T) {
	cause := errors.New("acpi: handle lost")
	fw := &fakeFirmware{present: true, invokeErr: cause}
	b := NewMethodBackend(fw)

	_, err := b.GetActive(context.Background())
	if CodeOf(err) != ErrCodeTransport {
		t.Errorf("GetActive() error = %v, want %s", err, ErrCodeTransport)
	}
	if !errors.Is(err, cause) {
		t.Errorf("GetActive() error does not wrap the invoke cause")
	}
}

func TestMethodBackend_SupportedOmitsDisabled(t *testing.T) {
	b := NewMethodBackend(&fakeFirmware{present: true})

	capWord := BitLocate | BitFail | BitDisabled
	want := BitLocate | BitFail
	if got := b.Supported(capWord); got != want {
		t.Errorf("Supported(%#x) = %#x, want %#x (no disabled state in firmware spec)",
			capWord, got, want)
	}
}

func TestMethodBackend_QuerySupported(t *testing.T) {
	fw := &fakeFirmware{
		present: true,
		replies: map[uint64][]byte{
			dsmGetSupportedStates: dsmReply(dsmStatusSuccess, 0, 0, BitLocate|BitFail|BitRebuild),
		},
	}
	b := NewMethodBackend(fw)

	got, err := b.QuerySupported(context.Background())
	if err != nil {
		t.Fatalf("QuerySupported() error: %v", err)
	}
	if got != BitLocate|BitFail|BitRebuild {
		t.Errorf("QuerySupported() = %#x", got)
	}
}
