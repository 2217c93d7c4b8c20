package npem

import (
	"context"
	"errors"
	"testing"
)

// fakeRegistrar records registrations and can fail after a set number of
// successful ones.
type fakeRegistrar struct {
	registered   []*Toggle
	unregistered []*Toggle
	failAfter    int // -1 = never fail
}

func (r *fakeRegistrar) Register(t *Toggle) error {
	if r.failAfter >= 0 && len(r.registered) >= r.failAfter {
		return errors.New("ledclass: name collision")
	}
	r.registered = append(r.registered, t)
	return nil
}

func (r *fakeRegistrar) Unregister(t *Toggle) {
	r.unregistered = append(r.unregistered, t)
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{failAfter: -1}
}

func TestOpen_PrefersMethodBackend(t *testing.T) {
	// Device exposes both a valid firmware method and a capability register.
	cfgSpace := newFakeConfigSpace(bitCapable|BitLocate|BitFail, bitEnable)
	fw := &fakeFirmware{
		present: true,
		replies: map[uint64][]byte{
			dsmGetSupportedStates: dsmReply(dsmStatusSuccess, 0, 0, BitLocate|BitFail),
		},
	}

	s, err := Open(context.Background(), SessionConfig{
		Device:    "0000:af:00.0",
		Config:    cfgSpace,
		CapPos:    testCapPos,
		CapWord:   bitCapable | BitLocate | BitFail,
		Firmware:  fw,
		Registrar: newFakeRegistrar(),
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if s.Controller().BackendName() != "dsm" {
		t.Errorf("backend = %q, want dsm", s.Controller().BackendName())
	}
	// The register channel must never be touched when the method wins.
	if cfgSpace.statusReads != 0 || len(cfgSpace.writes) != 0 {
		t.Errorf("register channel touched: %d status reads, %d writes",
			cfgSpace.statusReads, len(cfgSpace.writes))
	}
}

func TestOpen_FallsBackToRegisterBackend(t *testing.T) {
	cfgSpace := newFakeConfigSpace(bitCapable|BitLocate|BitFail, bitEnable|BitLocate)

	s, err := Open(context.Background(), SessionConfig{
		Device:    "0000:af:00.0",
		Config:    cfgSpace,
		CapPos:    testCapPos,
		CapWord:   bitCapable | BitLocate | BitFail,
		Firmware:  &fakeFirmware{present: false},
		Registrar: newFakeRegistrar(),
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if s.Controller().BackendName() != "npem" {
		t.Errorf("backend = %q, want npem", s.Controller().BackendName())
	}

	// The register session primes the cache eagerly: the pre-set locate bit
	// is visible without further backend reads.
	locate, _ := Lookup("locate")
	before := cfgSpace.statusReads
	on, err := s.Controller().Get(context.Background(), locate)
	if err != nil || !on {
		t.Errorf("Get(locate) = %v, %v, want true from primed cache", on, err)
	}
	if cfgSpace.statusReads != before {
		t.Errorf("Get() performed I/O on a primed cache")
	}
}

func TestOpen_CapabilityNotEnabled(t *testing.T) {
	cfgSpace := newFakeConfigSpace(BitLocate, 0) // enable bit clear in cap word

	_, err := Open(context.Background(), SessionConfig{
		Device:    "0000:af:00.0",
		Config:    cfgSpace,
		CapPos:    testCapPos,
		CapWord:   BitLocate,
		Registrar: newFakeRegistrar(),
	})
	if CodeOf(err) != ErrCodeUnsupported {
		t.Errorf("Open() error = %v, want %s", err, ErrCodeUnsupported)
	}
}

func TestOpen_NoChannelAvailable(t *testing.T) {
	_, err := Open(context.Background(), SessionConfig{
		Device:    "0000:af:00.0",
		Firmware:  &fakeFirmware{present: false},
		Registrar: newFakeRegistrar(),
	})
	if CodeOf(err) != ErrCodeUnsupported {
		t.Errorf("Open() error = %v, want %s", err, ErrCodeUnsupported)
	}
}

func TestOpen_RegistersOnlySupportedToggles(t *testing.T) {
	cfgSpace := newFakeConfigSpace(bitCapable|BitLocate|BitFail, bitEnable)
	reg := newFakeRegistrar()

	s, err := Open(context.Background(), SessionConfig{
		Device:    "0000:5e:00.0",
		Config:    cfgSpace,
		CapPos:    testCapPos,
		CapWord:   bitCapable | BitLocate | BitFail,
		Registrar: reg,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if len(reg.registered) != 2 {
		t.Fatalf("registered %d toggles, want 2", len(reg.registered))
	}
	if got := reg.registered[0].Name(); got != "0000:5e:00.0:enclosure:locate" {
		t.Errorf("first toggle name = %q", got)
	}
	if got := reg.registered[1].Name(); got != "0000:5e:00.0:enclosure:fail" {
		t.Errorf("second toggle name = %q", got)
	}
}

func TestOpen_RegistrationFailureUnwinds(t *testing.T) {
	cfgSpace := newFakeConfigSpace(bitCapable|BitLocate|BitFail|BitRebuild, bitEnable)
	reg := newFakeRegistrar()
	reg.failAfter = 2 // third registration fails

	_, err := Open(context.Background(), SessionConfig{
		Device:    "0000:5e:00.0",
		Config:    cfgSpace,
		CapPos:    testCapPos,
		CapWord:   bitCapable | BitLocate | BitFail | BitRebuild,
		Registrar: reg,
	})
	if err == nil {
		t.Fatal("Open() succeeded, want registration error")
	}

	// Every already-registered handle must have been unregistered.
	if len(reg.unregistered) != 2 {
		t.Errorf("unregistered %d toggles on failure, want 2", len(reg.unregistered))
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	cfgSpace := newFakeConfigSpace(bitCapable|BitLocate, bitEnable)
	reg := newFakeRegistrar()

	s, err := Open(context.Background(), SessionConfig{
		Device:    "0000:5e:00.0",
		Config:    cfgSpace,
		CapPos:    testCapPos,
		CapWord:   bitCapable | BitLocate,
		Registrar: reg,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	s.Close()
	s.Close()

	if len(reg.unregistered) != 1 {
		t.Errorf("double Close unregistered %d times, want 1", len(reg.unregistered))
	}

	var nilSession *Session
	nilSession.Close() // must not panic
}

func TestSession_ToggleRoundTrip(t *testing.T) {
	cfgSpace := newFakeConfigSpace(bitCapable|BitLocate, bitEnable)
	reg := newFakeRegistrar()
	ctx := context.Background()

	s, err := Open(ctx, SessionConfig{
		Device:    "0000:5e:00.0",
		Config:    cfgSpace,
		CapPos:    testCapPos,
		CapWord:   bitCapable | BitLocate,
		Registrar: reg,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	toggle := s.Toggles()[0]
	if err := toggle.Set(ctx, true); err != nil {
		t.Fatalf("toggle.Set() error: %v", err)
	}
	if on, err := toggle.Get(ctx); err != nil || !on {
		t.Errorf("toggle.Get() = %v, %v, want true", on, err)
	}
}
