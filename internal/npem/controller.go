package npem

import (
	"context"
	"time"
)

// Controller owns the supported mask and the cached active mask of one
// managed device and serializes every backend call. The cache is trusted
// only after it has been populated from hardware, and it is refreshed with
// the backend-reported state after every successful write, never with the
// requested mask.
type Controller struct {
	backend     Backend
	backendName string
	supported   uint32
	metrics     *Metrics

	// lock is a one-slot semaphore instead of sync.Mutex so acquisition can
	// be abandoned when the caller's context is torn down. It is held for
	// the full duration of every operation, backend I/O and completion poll
	// included: an interleaved writer could otherwise observe or create an
	// inconsistent cache.
	lock chan struct{}

	active    uint32
	populated bool
}

func newController(backend Backend, backendName string, capWord uint32, metrics *Metrics) *Controller {
	return &Controller{
		backend:     backend,
		backendName: backendName,
		supported:   backend.Supported(capWord),
		metrics:     metrics,
		lock:        make(chan struct{}, 1),
	}
}

// Supported returns the immutable supported indication mask.
func (c *Controller) Supported() uint32 {
	return c.supported
}

// BackendName reports which control channel this controller drives,
// "npem" or "dsm".
func (c *Controller) BackendName() string {
	return c.backendName
}

// acquire takes the session lock. An abandoned acquisition has not touched
// hardware state.
func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return NewError(ErrCodeInterrupted, "session lock wait aborted", ctx.Err())
	}
}

func (c *Controller) release() {
	<-c.lock
}

// ensurePopulated loads the cache from hardware on first access. Lazy so
// that backends whose availability depends on late-initializing subsystems
// are tolerated; the register session primes it eagerly at open instead.
// Caller must hold the lock.
func (c *Controller) ensurePopulated(ctx context.Context) error {
	if c.populated {
		return nil
	}
	active, err := c.backend.GetActive(ctx)
	if err != nil {
		return err
	}
	c.active = active & c.supported
	c.populated = true
	return nil
}

// prime populates the cache from hardware immediately.
func (c *Controller) prime(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.ensurePopulated(ctx)
}

// Get reports whether kind's indication is asserted. Answered from the
// cache; the only I/O is a one-time population on first access, whose
// failure propagates rather than reading as false.
func (c *Controller) Get(ctx context.Context, kind Indication) (bool, error) {
	if err := c.acquire(ctx); err != nil {
		return false, err
	}
	defer c.release()

	if err := c.ensurePopulated(ctx); err != nil {
		return false, err
	}
	return c.active&kind.Bit != 0, nil
}

// Active returns the full cached active mask, populating it on first access.
func (c *Controller) Active(ctx context.Context) (uint32, error) {
	if err := c.acquire(ctx); err != nil {
		return 0, err
	}
	defer c.release()

	if err := c.ensurePopulated(ctx); err != nil {
		return 0, err
	}
	return c.active, nil
}

// Set asserts or deasserts kind. Unsupported kinds are rejected before any
// I/O. The lock is held across the backend call; callers must tolerate up
// to the completion poll deadline. On backend error the cache is left
// unchanged and the error returned; retry policy belongs to the caller.
func (c *Controller) Set(ctx context.Context, kind Indication, on bool) error {
	if c.supported&kind.Bit == 0 {
		return NewError(ErrCodeUnsupported,
			"indication "+kind.Name+" not supported on this device", nil)
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.ensurePopulated(ctx); err != nil {
		return err
	}

	mask := c.active
	if on {
		mask |= kind.Bit
	} else {
		mask &^= kind.Bit
	}

	start := time.Now()
	accepted, err := c.backend.SetActive(ctx, mask)
	c.metrics.observeCommand(c.backendName, err, time.Since(start))
	if err != nil {
		return err
	}

	c.active = accepted & c.supported
	c.populated = true
	return nil
}
