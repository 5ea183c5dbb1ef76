package mqttsession

import (
	"time"

	"golang.org/x/time/rate"
)

// PayloadSource supplies the payload for each repeated publish. seq counts
// publishes already issued. ok=false means nothing is ready yet and the
// session asks again on a later loop iteration; ErrStopPublishing ends the
// publishing phase.
type PayloadSource interface {
	NextPayload(seq int) (payload []byte, ok bool, err error)
}

// PayloadSourceFunc adapts a function to PayloadSource.
type PayloadSourceFunc func(seq int) ([]byte, bool, error)

// NextPayload calls f.
func (f PayloadSourceFunc) NextPayload(seq int) ([]byte, bool, error) { return f(seq) }

type sessionOptions struct {
	logger        Logger
	metrics       Metrics
	errorHandler  func(error)
	onMessage     func(Message)
	payloadSource PayloadSource
	clock         func() time.Time
	loopWait      time.Duration
	reconnect     *rate.Limiter
}

// Option configures a Session.
type Option func(*sessionOptions)

func defaultOptions() *sessionOptions {
	return &sessionOptions{
		logger:    NewNoOpLogger(),
		metrics:   NoOpMetrics{},
		clock:     time.Now,
		reconnect: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// WithLogger sets the session logger.
func WithLogger(logger Logger) Option {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(o *sessionOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithErrorHandler sets the single sink every reported error goes through.
// It is called with the session lock held and must not call back into the session.
func WithErrorHandler(fn func(error)) Option {
	return func(o *sessionOptions) { o.errorHandler = fn }
}

// WithMessageHandler sets the handler for incoming application messages.
func WithMessageHandler(fn func(Message)) Option {
	return func(o *sessionOptions) { o.onMessage = fn }
}

// WithPayloadSource sets where repeated publishes take their payload from.
func WithPayloadSource(src PayloadSource) Option {
	return func(o *sessionOptions) { o.payloadSource = src }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *sessionOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithLoopWait overrides the transport wait used by Run.
func WithLoopWait(d time.Duration) Option {
	return func(o *sessionOptions) { o.loopWait = d }
}

// WithReconnectLimiter sets the pacing of 3.1.1 reconnect attempts.
func WithReconnectLimiter(l *rate.Limiter) Option {
	return func(o *sessionOptions) {
		if l != nil {
			o.reconnect = l
		}
	}
}
