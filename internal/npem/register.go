package npem

import (
	"context"
	"time"
)

// NPEM register offsets relative to the capability block position.
const (
	regCap    = 0x04
	regCtrl   = 0x08
	regStatus = 0x0c
)

// Completion poll tuning. PCIe r6.1 sec 6.28: a command must complete within
// 1 second, and software should not continuously spin on the status bit but
// poll at a reduced rate, for example at 10ms intervals.
const (
	defaultPollInitial  = 15 * time.Microsecond
	defaultPollMax      = 10 * time.Millisecond
	defaultPollDeadline = time.Second
)

// RegisterBackend drives indications through the memory-mapped NPEM
// capability registers with a write-then-poll command completion handshake.
type RegisterBackend struct {
	cfg ConfigSpace
	pos int // capability block offset in config space

	pollInitial  time.Duration
	pollMax      time.Duration
	pollDeadline time.Duration
}

// ReadCapabilityWord reads the raw NPEM capability word of the block at pos.
// Discovery reads it once and hands it to Open via SessionConfig.
func ReadCapabilityWord(cfg ConfigSpace, pos int) (uint32, error) {
	word, err := cfg.ReadDword(pos + regCap)
	if err != nil {
		return 0, NewError(ErrCodeTransport, "config space read failed", err)
	}
	return word, nil
}

// NewRegisterBackend creates a register backend over the NPEM capability
// block at pos.
func NewRegisterBackend(cfg ConfigSpace, pos int) *RegisterBackend {
	return &RegisterBackend{
		cfg:          cfg,
		pos:          pos,
		pollInitial:  defaultPollInitial,
		pollMax:      defaultPollMax,
		pollDeadline: defaultPollDeadline,
	}
}

// Supported returns the catalog subset of the capability word. The register
// block recognizes every catalog indication.
func (b *RegisterBackend) Supported(capWord uint32) uint32 {
	return capWord & CatalogMask()
}

func (b *RegisterBackend) readReg(reg int) (uint32, error) {
	val, err := b.cfg.ReadDword(b.pos + reg)
	if err != nil {
		return 0, NewError(ErrCodeTransport, "config space read failed", err)
	}
	return val, nil
}

// GetActive reads the control register. A cleared enable bit means no
// indication is considered on, whatever the other bits say.
func (b *RegisterBackend) GetActive(_ context.Context) (uint32, error) {
	ctrl, err := b.readReg(regCtrl)
	if err != nil {
		return 0, err
	}
	if ctrl&bitEnable == 0 {
		return 0, nil
	}
	return ctrl &^ (bitEnable | bitReset), nil
}

// SetActive writes the control register and waits for command completion.
// The value read back afterwards is authoritative over what was requested.
func (b *RegisterBackend) SetActive(ctx context.Context, mask uint32) (uint32, error) {
	// A previous command may still be in flight. Wait it out only when the
	// completion bit is not yet set; an already-set bit means the channel
	// is idle.
	status, err := b.readReg(regStatus)
	if err != nil {
		return 0, err
	}
	if status&bitCC == 0 {
		if err := b.waitCommandComplete(); err != nil {
			return 0, err
		}
	}

	// Enable must be asserted on every control write, no-op writes included.
	if err := b.cfg.WriteDword(b.pos+regCtrl, mask|bitEnable); err != nil {
		return 0, NewError(ErrCodeTransport, "config space write failed", err)
	}

	if err := b.waitCommandComplete(); err != nil {
		return 0, err
	}

	return b.GetActive(ctx)
}

// waitCommandComplete polls the status register until the command-completed
// bit is observed or the deadline elapses. The interval starts fine and
// backs off toward pollMax so the bus is not starved. Once a write has been
// issued the protocol does not support aborting the physical command, so
// the wait is not cancellable.
func (b *RegisterBackend) waitCommandComplete() error {
	deadline := time.Now().Add(b.pollDeadline)
	interval := b.pollInitial

	for {
		status, err := b.readReg(regStatus)
		if err != nil {
			return err
		}
		if status&bitCC != 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return NewError(ErrCodeTimeout,
				"command completion wait exceeded deadline, command outcome unknown", nil)
		}

		time.Sleep(interval)
		if interval *= 2; interval > b.pollMax {
			interval = b.pollMax
		}
	}
}
