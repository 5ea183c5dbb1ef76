package mqttsession

import "time"

// KeepAlive decides when the client must send PINGREQ and when a missing
// PINGRESP means the connection is dead. It is not safe for concurrent use.
type KeepAlive struct {
	interval    time.Duration
	graceFactor float64
	lastSend    time.Time
	pingSent    time.Time
}

// NewKeepAlive creates a tracker for interval. Zero disables keep-alive.
func NewKeepAlive(interval time.Duration) *KeepAlive {
	return &KeepAlive{
		interval:    interval,
		graceFactor: 1.5,
	}
}

// SetServerOverride applies the v5 CONNACK server keep-alive. Zero keeps
// the requested interval.
func (k *KeepAlive) SetServerOverride(seconds uint16) {
	if seconds > 0 {
		k.interval = time.Duration(seconds) * time.Second
	}
}

// SetGraceFactor sets how many intervals to wait for PINGRESP.
func (k *KeepAlive) SetGraceFactor(factor float64) {
	if factor < 1.0 {
		factor = 1.0
	}
	k.graceFactor = factor
}

// Interval returns the effective keep-alive interval.
func (k *KeepAlive) Interval() time.Duration {
	return k.interval
}

// Sent records outbound traffic.
func (k *KeepAlive) Sent(now time.Time) {
	k.lastSend = now
}

// PingSent records a PINGREQ.
func (k *KeepAlive) PingSent(now time.Time) {
	k.pingSent = now
	k.lastSend = now
}

// PingAnswered records a PINGRESP.
func (k *KeepAlive) PingAnswered() {
	k.pingSent = time.Time{}
}

// Awaiting reports whether a PINGREQ is unanswered.
func (k *KeepAlive) Awaiting() bool {
	return !k.pingSent.IsZero()
}

// Check reports whether a PINGREQ is due, or whether the outstanding one
// went unanswered for too long.
func (k *KeepAlive) Check(now time.Time) (ping, expired bool) {
	if k.interval <= 0 {
		return false, false
	}
	if k.Awaiting() {
		timeout := time.Duration(float64(k.interval) * k.graceFactor)
		return false, now.Sub(k.pingSent) >= timeout
	}
	return now.Sub(k.lastSend) >= k.interval, false
}
