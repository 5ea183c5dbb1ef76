package mqttsession

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Process exit codes. Transport failures exit with TransportError.Code and
// a refused CONNACK exits with its reason code.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitTimeout = 27
	ExitAborted = 255
)

// ShutdownController turns interruption and timeout triggers into a
// session disconnect and an exit code. The triggers only set atomic flags;
// Check reads them once per loop iteration.
type ShutdownController struct {
	interrupted atomic.Bool
	timedOut    atomic.Bool
	requested   atomic.Bool

	mu    sync.Mutex
	alarm *time.Timer
}

// NewShutdownController creates a controller with no trigger set.
func NewShutdownController() *ShutdownController {
	return &ShutdownController{}
}

// Notify interrupts on SIGINT or SIGTERM until stop is called.
func (c *ShutdownController) Notify() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-sigCh:
				c.Interrupt()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

// Interrupt requests termination.
func (c *ShutdownController) Interrupt() {
	c.interrupted.Store(true)
}

// Interrupted reports whether termination was requested.
func (c *ShutdownController) Interrupted() bool {
	return c.interrupted.Load()
}

// Alarm interrupts with a timeout classification after d. A later call
// replaces the pending alarm.
func (c *ShutdownController) Alarm(d time.Duration) (stop func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.alarm != nil {
		c.alarm.Stop()
	}
	t := time.AfterFunc(d, func() {
		c.timedOut.Store(true)
		c.Interrupt()
	})
	c.alarm = t
	return func() { t.Stop() }
}

// TimedOut reports whether the alarm fired.
func (c *ShutdownController) TimedOut() bool {
	return c.timedOut.Load()
}

// Check acts on a pending interruption. Before any CONNACK there is nothing
// to disconnect and the process should exit at once; afterwards the session
// is asked to disconnect with the will message and the normal disconnect
// path ends the loop.
func (c *ShutdownController) Check(s *Session) (done bool, code int) {
	if !c.interrupted.Load() || c.requested.Load() {
		return false, ExitOK
	}

	if !s.ConnackReceived() {
		if c.timedOut.Load() {
			return true, ExitTimeout
		}
		return true, ExitAborted
	}

	c.requested.Store(true)
	if s.State() == StateDisconnecting {
		// A disconnect is already in flight; its acknowledgement ends the loop.
		return false, ExitOK
	}
	if err := s.RequestDisconnect(ReasonDisconnectWithWill); err != nil {
		if errors.Is(err, ErrInvalidState) && s.State() == StateConnecting {
			// Between connections: no disconnect can be sent.
			if code := c.ExitCode(s); code != ExitOK {
				return true, code
			}
			return true, ExitAborted
		}
		return true, c.ExitCode(s)
	}
	return false, ExitOK
}

// ExitCode selects the process exit code: timeout first, then a refused
// CONNACK, then a transport failure, then any other fatal session error.
func (c *ShutdownController) ExitCode(s *Session) int {
	if c.timedOut.Load() {
		return ExitTimeout
	}
	if s.ConnackReceived() {
		if rc := s.ConnackResult(); rc != ReasonSuccess {
			return int(rc)
		}
	}

	err := s.Err()
	var te *TransportError
	if errors.As(err, &te) && te.Code != 0 {
		return te.Code
	}
	if err != nil {
		return ExitFailure
	}
	return ExitOK
}
