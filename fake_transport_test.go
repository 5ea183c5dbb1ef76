package mqttsession

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeTransport records every request and delivers queued events from Poll.
// With a broker set it answers requests the way a well-behaved broker would.
type fakeTransport struct {
	mu sync.Mutex

	calls     []string
	connects  []ConnectRequest
	publishes []PublishRequest
	nextID    uint16
	queue     []func(EventSink)
	closed    int

	broker *fakeBroker

	connectErr error
	publishErr error
	pollErrs   []error

	// onCall runs after a request is recorded, without the lock held.
	onCall func(call string)
}

// fakeBroker scripts the replies of an auto-responding transport.
type fakeBroker struct {
	connack   ReasonCode
	ackCode   ReasonCode
	suback    []ReasonCode
	silent    bool // never answer CONNECT
	zeroQoS0  bool // QoS 0 publishes return id 0
	noDiscAck bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func newBrokerTransport(b fakeBroker) *fakeTransport {
	return &fakeTransport{broker: &b}
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
}

func (f *fakeTransport) push(ev func(EventSink)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, ev)
}

func (f *fakeTransport) Connect(_ context.Context, req ConnectRequest) error {
	f.mu.Lock()
	f.connects = append(f.connects, req)
	err := f.connectErr
	f.mu.Unlock()

	f.record("connect")
	if err != nil {
		return err
	}
	if f.broker != nil && !f.broker.silent {
		code := f.broker.connack
		f.push(func(s EventSink) { s.OnConnect(ConnectResult{ReasonCode: code}) })
	}
	return nil
}

func (f *fakeTransport) Publish(req PublishRequest) (uint16, error) {
	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return 0, err
	}
	f.publishes = append(f.publishes, req)
	var id uint16
	if req.QoS > 0 || f.broker == nil || !f.broker.zeroQoS0 {
		f.nextID++
		id = f.nextID
	}
	f.mu.Unlock()

	f.record(fmt.Sprintf("publish %s", req.Topic))
	if f.broker != nil && id != 0 {
		code := f.broker.ackCode
		f.push(func(s EventSink) { s.OnPublishAck(PublishAck{MessageID: id, ReasonCode: code}) })
	}
	return id, nil
}

func (f *fakeTransport) SubscribeMultiple(filters []string, opts SubscribeOptions, _ *Properties) (uint16, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	f.record("subscribe " + strings.Join(filters, ","))
	if f.broker != nil {
		codes := f.broker.suback
		if codes == nil {
			for range filters {
				codes = append(codes, ReasonCode(opts.QoS))
			}
		}
		f.push(func(s EventSink) { s.OnSubscribeAck(SubscribeAck{MessageID: id, GrantedQoS: codes}) })
	}
	return id, nil
}

func (f *fakeTransport) Unsubscribe(filter string, _ *Properties) (uint16, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	f.record("unsubscribe " + filter)
	if f.broker != nil {
		f.push(func(s EventSink) { s.OnUnsubscribeAck(UnsubscribeAck{MessageID: id}) })
	}
	return id, nil
}

func (f *fakeTransport) Disconnect(reason ReasonCode, _ *Properties) error {
	f.record(fmt.Sprintf("disconnect %d", reason))
	if f.broker != nil && !f.broker.noDiscAck {
		f.push(func(s EventSink) { s.OnDisconnect(DisconnectResult{}) })
	}
	return nil
}

func (f *fakeTransport) Poll(ctx context.Context, wait time.Duration, sink EventSink) error {
	f.mu.Lock()
	events := f.queue
	f.queue = nil
	var err error
	if len(events) == 0 && len(f.pollErrs) > 0 {
		err = f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if len(events) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(min(wait, 2*time.Millisecond)):
		}
		return nil
	}
	for _, ev := range events {
		ev(sink)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// requests returns the recorded calls, excluding close.
func (f *fakeTransport) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) count(prefix string) int {
	n := 0
	for _, c := range f.requests() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// errorRecorder collects reported errors.
type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Topic = ""
	cfg.Reconnect = false
	cfg.ConnTimeout = 0
	return cfg
}
