package npem

import "context"

// Toggle is a single indication's on/off control handle, handed to the
// registration layer which wires it into its own naming and visibility
// scheme. Names are stable: "<device>:enclosure:<indication>".
type Toggle struct {
	name string
	kind Indication
	ctrl *Controller
}

// Name returns the toggle's stable registration name.
func (t *Toggle) Name() string { return t.name }

// Kind returns the indication this toggle controls.
func (t *Toggle) Kind() Indication { return t.kind }

// Get reports whether the indication is asserted.
func (t *Toggle) Get(ctx context.Context) (bool, error) {
	return t.ctrl.Get(ctx, t.kind)
}

// Set asserts or deasserts the indication. May block for up to the
// completion poll deadline.
func (t *Toggle) Set(ctx context.Context, on bool) error {
	return t.ctrl.Set(ctx, t.kind, on)
}

// Registrar is the external registration layer the session hands its toggle
// handles to.
type Registrar interface {
	Register(t *Toggle) error
	Unregister(t *Toggle)
}

// SessionConfig carries everything Open needs to bind a controller to one
// physical device. Config or Firmware may be nil when the respective channel
// is absent; at least one must be usable.
type SessionConfig struct {
	// Device is the device address, used as the toggle name prefix.
	Device string

	// Config and CapPos describe the register channel: config space access
	// and the NPEM capability block offset found at discovery.
	Config ConfigSpace
	CapPos int

	// CapWord is the raw capability word read at discovery. Bits outside
	// the catalog are masked away and never acted upon.
	CapWord uint32

	// Firmware is the firmware method channel, probed before selection.
	Firmware FirmwareMethod

	Registrar Registrar
	Metrics   *Metrics
}

// Session binds one controller to one physical device and owns the toggle
// handles registered for it. Sessions for different devices are fully
// independent.
type Session struct {
	device  string
	ctrl    *Controller
	reg     Registrar
	toggles []*Toggle
	closed  bool
}

// Open selects exactly one backend for the device, builds its controller
// and registers one toggle per supported indication. The firmware method is
// preferred when its probe succeeds; the register block is the fallback.
// Any registration failure unwinds every prior registration before the
// error propagates, so a failed Open leaks nothing.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	var (
		backend Backend
		name    string
		capWord = cfg.CapWord
	)

	switch {
	case cfg.Firmware != nil && cfg.Firmware.Probe():
		mb := NewMethodBackend(cfg.Firmware)
		// Firmware advertises its own capability word; the two channels
		// may recognize different indication subsets.
		word, err := mb.QuerySupported(ctx)
		if err != nil {
			return nil, err
		}
		backend, name, capWord = mb, "dsm", word

	case cfg.Config != nil:
		if cfg.CapWord&bitCapable == 0 {
			return nil, NewError(ErrCodeUnsupported,
				"NPEM capability present but not enabled", nil)
		}
		backend, name = NewRegisterBackend(cfg.Config, cfg.CapPos), "npem"

	default:
		return nil, NewError(ErrCodeUnsupported,
			"no indication control channel available", nil)
	}

	ctrl := newController(backend, name, capWord, cfg.Metrics)

	// The register channel is fully initialized at this point, so populate
	// the cache eagerly; firmware availability can postdate discovery, so
	// the dsm cache stays lazy until first access.
	if name == "npem" {
		if err := ctrl.prime(ctx); err != nil {
			return nil, err
		}
	}

	s := &Session{
		device: cfg.Device,
		ctrl:   ctrl,
		reg:    cfg.Registrar,
	}

	var failed error
	ForEach(func(_ int, ind Indication) {
		if failed != nil || ctrl.supported&ind.Bit == 0 {
			return
		}
		t := &Toggle{
			name: cfg.Device + ":enclosure:" + ind.Name,
			kind: ind,
			ctrl: ctrl,
		}
		if err := cfg.Registrar.Register(t); err != nil {
			failed = err
			return
		}
		s.toggles = append(s.toggles, t)
	})
	if failed != nil {
		s.unregisterAll()
		return nil, failed
	}

	return s, nil
}

// Device returns the device address the session is bound to.
func (s *Session) Device() string { return s.device }

// Controller returns the session's indication controller.
func (s *Session) Controller() *Controller { return s.ctrl }

// Toggles returns the registered toggle handles in catalog order.
func (s *Session) Toggles() []*Toggle { return s.toggles }

// Close unregisters every live toggle handle and drops the backend
// reference. Idempotent.
func (s *Session) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	s.unregisterAll()
}

func (s *Session) unregisterAll() {
	for _, t := range s.toggles {
		s.reg.Unregister(t)
	}
	s.toggles = nil
}
