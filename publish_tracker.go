package mqttsession

import (
	"errors"
	"time"
)

// ErrUnknownMessageID is returned for an acknowledgement nobody is waiting for.
var ErrUnknownMessageID = errors.New("acknowledgement for unknown message id")

// RecordState is the lifecycle of one publish.
type RecordState int

const (
	RecordPending RecordState = iota
	RecordAcked
	RecordFailed
	RecordAbandoned
)

func (s RecordState) String() string {
	switch s {
	case RecordPending:
		return "pending"
	case RecordAcked:
		return "acked"
	case RecordFailed:
		return "failed"
	case RecordAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// PublishRecord tracks one outgoing PUBLISH until its acknowledgement.
type PublishRecord struct {
	MessageID  uint16
	Topic      string
	QoS        byte
	Retain     bool
	Payload    []byte
	State      RecordState
	ReasonCode ReasonCode
	IssuedAt   time.Time
}

// Publisher is the part of a Transport the tracker needs.
type Publisher interface {
	Publish(req PublishRequest) (uint16, error)
}

// PublishTracker correlates publishes with their acknowledgements and runs
// the repeat policy: after each successful acknowledgement, while fewer than
// RepeatCount publishes succeeded, a deadline of now+RepeatDelay is armed.
// The deadline is level-triggered: Due stays true until the next Publish.
type PublishTracker struct {
	records     map[uint16]*PublishRecord
	repeatCount int
	repeatDelay time.Duration
	now         func() time.Time

	succeeded int
	completed int
	issued    int
	timers    int
	armed     bool
	deadline  time.Time
}

// NewPublishTracker creates a tracker for the given repeat policy.
func NewPublishTracker(repeatCount int, repeatDelay time.Duration, now func() time.Time) *PublishTracker {
	if now == nil {
		now = time.Now
	}
	return &PublishTracker{
		records:     make(map[uint16]*PublishRecord),
		repeatCount: repeatCount,
		repeatDelay: repeatDelay,
		now:         now,
	}
}

// Publish issues req through p. It requires the Ready state.
func (t *PublishTracker) Publish(p Publisher, state State, req PublishRequest) (uint16, error) {
	if state != StateReady {
		return 0, ErrNotConnected
	}

	id, err := p.Publish(req)
	if err != nil {
		return 0, err
	}

	t.issued++
	t.armed = false

	if id == 0 {
		t.complete(ReasonSuccess)
		return 0, nil
	}

	t.records[id] = &PublishRecord{
		MessageID: id,
		Topic:     req.Topic,
		QoS:       req.QoS,
		Retain:    req.Retain,
		Payload:   req.Payload,
		State:     RecordPending,
		IssuedAt:  t.now(),
	}
	return id, nil
}

// OnPublishAck settles the record for ack. A failure code yields a
// *PublishFailure and does not count towards the repeat target.
func (t *PublishTracker) OnPublishAck(ack PublishAck) (*PublishRecord, error) {
	rec, ok := t.records[ack.MessageID]
	if !ok {
		return nil, ErrUnknownMessageID
	}
	delete(t.records, ack.MessageID)

	rec.ReasonCode = ack.ReasonCode
	if ack.ReasonCode.IsError() {
		rec.State = RecordFailed
		t.complete(ack.ReasonCode)
		return rec, NewPublishFailure(rec.MessageID, rec.Topic, ack.ReasonCode, ack.Properties.GetString(PropReasonString))
	}

	rec.State = RecordAcked
	t.complete(ack.ReasonCode)
	return rec, nil
}

func (t *PublishTracker) complete(reason ReasonCode) {
	t.completed++
	if reason.IsSuccess() {
		t.succeeded++
	}
	if !t.Done() {
		t.Arm()
	}
}

// Arm sets the repeat deadline to now+delay. It does nothing when the
// policy publishes only once.
func (t *PublishTracker) Arm() {
	if t.repeatCount <= 1 {
		return
	}
	t.armed = true
	t.deadline = t.now().Add(t.repeatDelay)
	t.timers++
}

// Due reports whether the repeat deadline has passed.
func (t *PublishTracker) Due() bool {
	return t.armed && !t.now().Before(t.deadline)
}

// Deadline returns the armed deadline, if any.
func (t *PublishTracker) Deadline() (time.Time, bool) {
	return t.deadline, t.armed
}

// Done reports whether the publishing phase is complete: the repeat target
// was reached, or the single publish of a non-repeating policy settled.
func (t *PublishTracker) Done() bool {
	if t.repeatCount <= 1 {
		return t.completed >= 1
	}
	return t.succeeded >= t.repeatCount
}

// Abandon drops every pending record, e.g. when the connection is replaced.
func (t *PublishTracker) Abandon() []*PublishRecord {
	abandoned := make([]*PublishRecord, 0, len(t.records))
	for id, rec := range t.records {
		rec.State = RecordAbandoned
		abandoned = append(abandoned, rec)
		delete(t.records, id)
	}
	return abandoned
}

// Succeeded returns the number of successfully acknowledged publishes.
func (t *PublishTracker) Succeeded() int { return t.succeeded }

// Issued returns the number of publishes handed to the transport.
func (t *PublishTracker) Issued() int { return t.issued }

// TimersArmed returns how many repeat deadlines were armed.
func (t *PublishTracker) TimersArmed() int { return t.timers }

// Pending returns the number of unacknowledged publishes.
func (t *PublishTracker) Pending() int { return len(t.records) }
