package mqttsession

import (
	"context"
	"time"
)

const (
	defaultLoopWait = time.Second
	minLoopWait     = time.Millisecond
)

// LoopWait returns how long one loop iteration may block on the transport.
// Repeating publishers with a sub-second delay poll at half that fraction
// so a deadline is never overshot by a whole second.
func LoopWait(cfg *Config) time.Duration {
	wait := defaultLoopWait
	if cfg.Topic != "" && cfg.RepeatCount > 1 {
		frac := cfg.RepeatDelay % time.Second
		if frac != 0 || cfg.RepeatDelay < time.Second {
			wait = frac / 2
		}
	}
	return max(wait, minLoopWait)
}

// Run opens the session and drives it until it reaches a terminal state or
// the shutdown controller ends it. It returns the process exit code.
// Cancelling ctx counts as an interruption.
func (s *Session) Run(ctx context.Context, sc *ShutdownController) int {
	if sc == nil {
		sc = NewShutdownController()
	}

	// Configuration and connect-time failures exit with ExitFailure.
	if err := s.Open(ctx); err != nil {
		if sc.TimedOut() {
			return ExitTimeout
		}
		return ExitFailure
	}

	if s.cfg.Timeout > 0 {
		stop := sc.Alarm(s.cfg.Timeout)
		defer stop()
	}

	wait := s.opts.loopWait
	if wait <= 0 {
		wait = LoopWait(s.cfg)
	}

	for {
		if ctx.Err() != nil {
			sc.Interrupt()
		}
		if done, code := sc.Check(s); done {
			_ = s.Close()
			return code
		}
		if s.State().Terminal() {
			break
		}

		if s.ReconnectPending() {
			s.reconnect(ctx)
			continue
		}

		if err := s.transport.Poll(ctx, wait, s); err != nil {
			s.HandleTransportError(err)
			continue
		}

		s.PollRepeat()
	}

	_ = s.Close()
	return sc.ExitCode(s)
}

func (s *Session) reconnect(ctx context.Context) {
	if err := s.opts.reconnect.Wait(ctx); err != nil {
		return
	}
	if err := s.Reopen(ctx); err != nil {
		s.logger.Warn("reconnect failed", LogFields{LogFieldError: err.Error()})
	}
}
