package mqttsession

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnAckReceived
	StateSubscriptionPending
	StateReady
	StateDisconnecting
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnAckReceived:
		return "connack-received"
	case StateSubscriptionPending:
		return "subscription-pending"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// Session drives one MQTT client connection through its lifecycle. It
// implements EventSink; all of its state sits behind a single mutex so
// events from any goroutine are serialized.
type Session struct {
	mu sync.Mutex

	cfg       *Config
	props     *PropertySets
	transport Transport
	registry  *TopicRegistry
	tracker   *PublishTracker
	opts      *sessionOptions
	logger    Logger

	state            State
	connackReceived  bool
	connackResult    ReasonCode
	fatal            error
	reconnectPending bool
}

// NewSession builds a session from cfg. Property sets are validated here so
// an illegal property never reaches the transport. Invalid topic filters are
// reported through the error handler and left out of the registry.
func NewSession(cfg *Config, transport Transport, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, NewConfigError("", "missing configuration")
	}
	if transport == nil {
		return nil, NewConfigError("transport", "missing transport")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.payloadSource == nil {
		message := []byte(cfg.Message)
		o.payloadSource = PayloadSourceFunc(func(int) ([]byte, bool, error) {
			return message, true, nil
		})
	}

	props, err := cfg.BuildProperties()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		props:     props,
		transport: transport,
		registry:  NewTopicRegistry(),
		tracker:   NewPublishTracker(cfg.RepeatCount, cfg.RepeatDelay, o.clock),
		opts:      o,
		logger:    o.logger.WithFields(LogFields{LogFieldBroker: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}),
	}
	if o.errorHandler == nil {
		o.errorHandler = s.logError
	}

	for _, filter := range cfg.Topics {
		if err := s.registry.AddSubscribe(filter); err != nil {
			s.report(err)
		}
	}
	for _, filter := range cfg.UnsubTopics {
		if err := s.registry.AddUnsubscribe(filter); err != nil {
			s.report(err)
		}
	}

	return s, nil
}

// Open validates the configuration and asks the transport to connect. The
// CONNACK arrives later through OnConnect.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrInvalidState
	}

	if err := s.cfg.Validate(); err != nil {
		s.failLocked(err)
		return err
	}

	if err := s.connectLocked(ctx); err != nil {
		s.failLocked(err)
		return err
	}

	s.setStateLocked(StateConnecting)
	return nil
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.cfg.ConnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnTimeout)
		defer cancel()
	}

	clientID := s.cfg.ClientID()
	s.logger.Debug("connecting", LogFields{
		LogFieldClientID: clientID,
		LogFieldVersion:  s.cfg.ProtocolVersion.String(),
	})

	return s.transport.Connect(ctx, ConnectRequest{
		Host:         s.cfg.Host,
		Port:         s.cfg.Port,
		ClientID:     clientID,
		Keepalive:    time.Duration(s.cfg.Keepalive) * time.Second,
		CleanSession: s.cfg.CleanSession,
		Username:     s.cfg.Username,
		Password:     s.cfg.Password,
		Properties:   s.props.Connect,
	})
}

// OnConnect handles the CONNACK.
func (s *Session) OnConnect(ev ConnectResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		s.logger.Warn("unexpected CONNACK", LogFields{LogFieldState: s.state.String()})
		return
	}

	s.connackReceived = true
	s.connackResult = ev.ReasonCode

	if ev.ReasonCode != ReasonSuccess {
		s.opts.metrics.Counter(MetricConnectFailures, MetricLabels{LabelReasonCode: strconv.Itoa(int(ev.ReasonCode))}).Inc()
		err := NewConnectError(ev.ReasonCode, s.cfg.ProtocolVersion, ev.Properties)
		// The broker closes the connection itself after a refusal, so a failed
		// DISCONNECT is expected and only traced. Its clean acknowledgement
		// arrives after the session is already Failed and is ignored.
		if derr := s.transport.Disconnect(ReasonSuccess, s.props.Disconnect); derr != nil {
			s.logger.Debug("disconnect after refused CONNACK failed", LogFields{LogFieldError: derr.Error()})
		}
		s.failLocked(err)
		return
	}

	s.opts.metrics.Counter(MetricConnects, nil).Inc()
	s.setStateLocked(StateConnAckReceived)

	if !s.registry.Empty() {
		s.setStateLocked(StateSubscriptionPending)
		result, err := s.registry.Flush(s.transport, s.cfg.SubOptions, s.props.Subscribe, s.props.Unsubscribe)
		if err != nil {
			s.transportFailedLocked(err)
			return
		}
		if result.SubscribeID != 0 {
			s.opts.metrics.Counter(MetricSubscribes, nil).Inc()
		}
		s.opts.metrics.Counter(MetricUnsubscribes, nil).Add(float64(len(result.UnsubscribeIDs)))
	}

	s.setStateLocked(StateReady)

	if !s.publisher() || s.tracker.Done() {
		return
	}
	switch {
	case s.tracker.Issued() == 0:
		s.publishLocked([]byte(s.cfg.Message))
	case s.tracker.Pending() == 0:
		// Reconnected with nothing in flight: resume on the repeat schedule.
		if _, armed := s.tracker.Deadline(); !armed {
			s.tracker.Arm()
		}
	}
}

// OnPublishAck settles the matching publish record.
func (s *Session) OnPublishAck(ev PublishAck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.tracker.OnPublishAck(ev)
	if errors.Is(err, ErrUnknownMessageID) {
		s.logger.Debug("ack for unknown message", LogFields{LogFieldMessageID: ev.MessageID})
		return
	}

	s.opts.metrics.Gauge(MetricPublishInflight, nil).Set(float64(s.tracker.Pending()))
	s.opts.metrics.Histogram(MetricPublishLatency, nil).ObserveDuration(s.opts.clock().Sub(rec.IssuedAt))

	if err != nil {
		s.opts.metrics.Counter(MetricPublishFailed, MetricLabels{LabelReasonCode: strconv.Itoa(int(ev.ReasonCode))}).Inc()
		s.report(err)
	} else {
		s.opts.metrics.Counter(MetricPublishAcked, qosLabels(rec.QoS)).Inc()
		s.logger.Debug("publish acknowledged", LogFields{LogFieldMessageID: rec.MessageID, LogFieldTopic: rec.Topic})
	}

	s.finishPublishingLocked()
}

// OnSubscribeAck handles a SUBACK. When every filter is refused the session
// disconnects.
func (s *Session) OnSubscribeAck(ev SubscribeAck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	denied := len(ev.GrantedQoS) > 0
	for _, code := range ev.GrantedQoS {
		if !code.IsError() {
			denied = false
			break
		}
	}

	if !denied {
		s.logger.Debug("subscribed", LogFields{LogFieldMessageID: ev.MessageID, LogFieldCount: len(ev.GrantedQoS)})
		return
	}

	err := NewSubscriptionDenied(ev.MessageID, ev.GrantedQoS)
	s.report(err)
	s.fatal = err
	if derr := s.requestDisconnectLocked(ReasonSuccess); derr != nil {
		s.logger.Debug("disconnect after denied subscription skipped", LogFields{LogFieldError: derr.Error()})
	}
}

// OnUnsubscribeAck logs the UNSUBACK.
func (s *Session) OnUnsubscribeAck(ev UnsubscribeAck) {
	s.logger.Debug("unsubscribed", LogFields{LogFieldMessageID: ev.MessageID})
}

// OnMessage hands an incoming message to the message handler. The handler
// runs without the session lock and may call back into the session.
func (s *Session) OnMessage(ev Message) {
	s.opts.metrics.Counter(MetricMessagesReceived, qosLabels(ev.QoS)).Inc()
	if s.opts.onMessage != nil {
		s.opts.onMessage(ev)
	}
}

// OnDisconnect handles the end of the connection.
func (s *Session) OnDisconnect(ev DisconnectResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}

	switch {
	case ev.Clean():
		s.setStateLocked(StateDisconnected)
	case ev.Err != nil && s.reconnectMode() && s.state != StateDisconnecting:
		// The transport reconnects on its own; wait for the next CONNACK.
		s.logger.Warn("connection lost, waiting for reconnect", LogFields{LogFieldError: ev.Err.Error()})
		s.abandonLocked()
		s.setStateLocked(StateConnecting)
	case ev.Err != nil:
		s.failLocked(NewTransportError("connection", CodeConnLost, ev.Err))
	default:
		s.failLocked(NewDisconnectError(ev.ReasonCode, ev.Properties, ev.Remote))
	}
}

// RequestDisconnect asks the transport to disconnect with reason. It is
// only valid once a CONNACK was accepted and before disconnecting started.
func (s *Session) RequestDisconnect(reason ReasonCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestDisconnectLocked(reason)
}

func (s *Session) requestDisconnectLocked(reason ReasonCode) error {
	if s.state != StateConnAckReceived && s.state != StateReady {
		return ErrInvalidState
	}

	s.setStateLocked(StateDisconnecting)
	if err := s.transport.Disconnect(reason, s.props.Disconnect); err != nil {
		s.failLocked(err)
		return err
	}
	return nil
}

// Publish sends payload to the configured topic. It requires the Ready state.
func (s *Session) Publish(payload []byte) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(payload)
}

func (s *Session) publishLocked(payload []byte) (uint16, error) {
	req := PublishRequest{
		Topic:      s.cfg.Topic,
		Payload:    payload,
		QoS:        s.cfg.QoS,
		Retain:     s.cfg.Retain,
		Properties: s.props.Publish,
	}

	id, err := s.tracker.Publish(s.transport, s.state, req)
	if err != nil {
		s.report(&PublishError{Topic: req.Topic, Cause: err})
		var te *TransportError
		if errors.As(err, &te) {
			s.transportFailedLocked(err)
		}
		return 0, err
	}

	s.opts.metrics.Counter(MetricPublishes, qosLabels(req.QoS)).Inc()
	s.opts.metrics.Gauge(MetricPublishInflight, nil).Set(float64(s.tracker.Pending()))
	s.logger.Debug("published", LogFields{
		LogFieldMessageID: id,
		LogFieldTopic:     req.Topic,
		LogFieldQoS:       req.QoS,
		LogFieldBytes:     len(payload),
	})

	if id == 0 {
		s.finishPublishingLocked()
	}
	return id, nil
}

func (s *Session) finishPublishingLocked() {
	if s.publisher() && s.cfg.ExitAfterPublish && s.tracker.Done() && s.state == StateReady {
		if err := s.requestDisconnectLocked(ReasonSuccess); err != nil {
			s.logger.Debug("disconnect after publishing failed", LogFields{LogFieldError: err.Error()})
		}
	}
}

// PollRepeat issues the next repeated publish once its deadline has passed.
// It is called once per loop iteration.
func (s *Session) PollRepeat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady || !s.publisher() || s.tracker.Done() || !s.tracker.Due() {
		return
	}

	payload, ok, err := s.opts.payloadSource.NextPayload(s.tracker.Issued())
	switch {
	case errors.Is(err, ErrStopPublishing):
		if derr := s.requestDisconnectLocked(ReasonSuccess); derr != nil {
			s.logger.Debug("disconnect after stop failed", LogFields{LogFieldError: derr.Error()})
		}
		return
	case err != nil:
		s.report(err)
		return
	case !ok:
		return
	}

	_, _ = s.publishLocked(payload)
}

// Reopen reconnects after a lost connection. Pending publishes are
// abandoned and subscriptions are flushed again on the next CONNACK.
func (s *Session) Reopen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return ErrInvalidState
	}

	s.abandonLocked()
	s.opts.metrics.Counter(MetricReconnects, nil).Inc()
	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	s.reconnectPending = false
	return nil
}

// Fail moves the session to Failed with err and closes the transport.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.failLocked(err)
	}
}

// HandleTransportError classifies an error returned by Transport.Poll.
func (s *Session) HandleTransportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state.Terminal():
	case s.state == StateDisconnecting:
		// The broker closed the connection after our DISCONNECT.
		s.setStateLocked(StateDisconnected)
	case s.state == StateConnecting && s.reconnectPending:
	default:
		s.transportFailedLocked(err)
	}
}

func (s *Session) transportFailedLocked(err error) {
	if s.reconnectMode() {
		s.logger.Warn("connection lost, reconnecting", LogFields{LogFieldError: err.Error()})
		_ = s.transport.Close()
		s.reconnectPending = true
		s.setStateLocked(StateConnecting)
		return
	}
	s.failLocked(err)
}

func (s *Session) failLocked(err error) {
	s.report(err)
	s.fatal = err
	s.abandonLocked()
	s.setStateLocked(StateFailed)
	_ = s.transport.Close()
}

func (s *Session) abandonLocked() {
	if dropped := s.tracker.Abandon(); len(dropped) > 0 {
		s.logger.Debug("abandoned pending publishes", LogFields{LogFieldCount: len(dropped)})
		s.opts.metrics.Gauge(MetricPublishInflight, nil).Set(0)
	}
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.logger.Debug("state change", LogFields{LogFieldState: state.String()})
	s.state = state
}

// 3.1.1 sessions reconnect; v5 sessions rely on explicit shutdown instead.
func (s *Session) reconnectMode() bool {
	return s.cfg.Reconnect && s.cfg.ProtocolVersion == ProtocolV311
}

func (s *Session) publisher() bool { return s.cfg.Topic != "" }

func (s *Session) report(err error) {
	s.opts.errorHandler(err)
}

func (s *Session) logError(err error) {
	var pf *PublishFailure
	var tv *TopicValidationError
	if errors.As(err, &pf) || errors.As(err, &tv) {
		s.logger.Warn(err.Error(), nil)
		return
	}
	s.logger.Error(err.Error(), nil)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// ConnackReceived reports whether any CONNACK arrived.
func (s *Session) ConnackReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connackReceived
}

// ConnackResult returns the reason code of the last CONNACK.
func (s *Session) ConnackResult() ReasonCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connackResult
}

// ReconnectPending reports whether Run should call Reopen.
func (s *Session) ReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectPending
}

// Tracker exposes the publish tracker for inspection.
func (s *Session) Tracker() *PublishTracker { return s.tracker }

// Registry exposes the topic registry for inspection.
func (s *Session) Registry() *TopicRegistry { return s.registry }

// Config returns the session configuration.
func (s *Session) Config() *Config { return s.cfg }

// Close releases the transport.
func (s *Session) Close() error {
	return s.transport.Close()
}
