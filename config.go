package mqttsession

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in Config.Transport.
const (
	TransportTCP  = "tcp"
	TransportTLS  = "tls"
	TransportWS   = "ws"
	TransportWSS  = "wss"
	TransportUnix = "unix"
	TransportQUIC = "quic"
)

// PropertySpec describes one property to add to a packet kind's property set,
// e.g. {Command: "connect", Name: "session-expiry-interval", Value: "3600"}.
type PropertySpec struct {
	Command string `yaml:"command"`
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
}

// ParsePropertySpec parses the command line form "command:name=value".
func ParsePropertySpec(s string) (PropertySpec, error) {
	command, rest, ok := strings.Cut(s, ":")
	if !ok {
		return PropertySpec{}, NewConfigError("-D", "expected command:name=value, got "+s)
	}
	name, value, ok := strings.Cut(rest, "=")
	if !ok {
		return PropertySpec{}, NewConfigError("-D", "expected command:name=value, got "+s)
	}
	return PropertySpec{Command: command, Name: name, Value: value}, nil
}

var propertyCommands = map[string]PacketType{
	"connect":     PacketCONNECT,
	"publish":     PacketPUBLISH,
	"subscribe":   PacketSUBSCRIBE,
	"unsubscribe": PacketUNSUBSCRIBE,
	"disconnect":  PacketDISCONNECT,
}

// Config holds everything a session needs. It is built once at startup and
// passed to NewSession; nothing in the package keeps process-wide state.
type Config struct {
	ID              string          `yaml:"id"`
	IDPrefix        string          `yaml:"id_prefix"`
	ProtocolVersion ProtocolVersion `yaml:"protocol_version"`
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	Transport       string          `yaml:"transport"`
	// Path is the WebSocket path or the Unix socket path.
	Path         string        `yaml:"path"`
	Proxy        string        `yaml:"proxy"`
	Keepalive    int           `yaml:"keepalive"`
	CleanSession bool          `yaml:"clean_session"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	ConnTimeout  time.Duration `yaml:"connect_timeout"`

	// Publishing. An empty Topic disables the publisher.
	Topic            string        `yaml:"topic"`
	Message          string        `yaml:"message"`
	QoS              byte          `yaml:"qos"`
	Retain           bool          `yaml:"retain"`
	RepeatCount      int           `yaml:"repeat_count"`
	RepeatDelay      time.Duration `yaml:"repeat_delay"`
	ExitAfterPublish bool          `yaml:"exit_after_publish"`

	// Subscriptions, flushed in order on every successful CONNACK.
	Topics      []string         `yaml:"topics"`
	UnsubTopics []string         `yaml:"unsub_topics"`
	SubOptions  SubscribeOptions `yaml:"subscribe_options"`

	Timeout    time.Duration  `yaml:"timeout"`
	Reconnect  bool           `yaml:"reconnect"`
	Properties []PropertySpec `yaml:"properties"`

	Debug bool `yaml:"debug"`
	Quiet bool `yaml:"quiet"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ProtocolVersion:  ProtocolV5,
		Host:             "127.0.0.1",
		Port:             1883,
		Transport:        TransportTCP,
		Keepalive:        60,
		CleanSession:     true,
		ConnTimeout:      10 * time.Second,
		Topic:            "EXAMPLE_TOPIC",
		QoS:              0,
		Retain:           true,
		RepeatCount:      2,
		RepeatDelay:      time.Second,
		ExitAfterPublish: true,
		Reconnect:        true,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that must hold before any network activity.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return NewConfigError("host", "host must not be empty")
	case c.Port < 1 || c.Port > 65535:
		return NewConfigError("port", fmt.Sprintf("port %d out of range 1-65535", c.Port))
	case c.Keepalive <= 0 || c.Keepalive > 65535:
		return NewConfigError("keepalive", fmt.Sprintf("keepalive %d out of range 1-65535", c.Keepalive))
	case c.ProtocolVersion != ProtocolV311 && c.ProtocolVersion != ProtocolV5:
		return NewConfigError("protocol_version", "unsupported protocol version "+c.ProtocolVersion.String())
	case c.QoS > 1:
		return NewConfigError("qos", "QoS must be 0 or 1")
	case c.SubOptions.QoS > 1:
		return NewConfigError("subscribe_options.qos", "QoS must be 0 or 1")
	case c.SubOptions.RetainHandling > 2:
		return NewConfigError("subscribe_options.retain_handling", "retain handling must be 0, 1 or 2")
	case c.RepeatCount < 0:
		return NewConfigError("repeat_count", "repeat count must not be negative")
	case c.RepeatDelay < 0:
		return NewConfigError("repeat_delay", "repeat delay must not be negative")
	case c.Timeout < 0:
		return NewConfigError("timeout", "timeout must not be negative")
	case len(c.ID) > 65535:
		return NewConfigError("id", "client id too long")
	case c.ID == "" && !c.CleanSession && c.ProtocolVersion == ProtocolV311:
		return NewConfigError("id", "a client id is required when clean session is disabled")
	}

	if c.Topic != "" {
		if err := ValidateTopicName(c.Topic); err != nil {
			return NewConfigError("topic", fmt.Sprintf("invalid publish topic %q: %v", c.Topic, err))
		}
	}

	switch c.Transport {
	case "", TransportTCP, TransportTLS, TransportWS, TransportWSS, TransportQUIC:
	case TransportUnix:
		if c.Path == "" {
			return NewConfigError("path", "unix transport requires a socket path")
		}
	default:
		return NewConfigError("transport", "unknown transport "+c.Transport)
	}

	return nil
}

// ClientID returns the configured id, or IDPrefix followed by a random suffix.
// An empty result asks the broker to assign one.
func (c *Config) ClientID() string {
	if c.ID != "" || c.IDPrefix == "" {
		return c.ID
	}
	return c.IDPrefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// PropertySets holds one immutable property set per packet kind.
type PropertySets struct {
	Connect     *Properties
	Publish     *Properties
	Subscribe   *Properties
	Unsubscribe *Properties
	Disconnect  *Properties
}

func (s *PropertySets) forKind(kind PacketType) **Properties {
	switch kind {
	case PacketCONNECT:
		return &s.Connect
	case PacketPUBLISH:
		return &s.Publish
	case PacketSUBSCRIBE:
		return &s.Subscribe
	case PacketUNSUBSCRIBE:
		return &s.Unsubscribe
	case PacketDISCONNECT:
		return &s.Disconnect
	}
	return nil
}

// Validate checks every set against its packet kind.
func (s *PropertySets) Validate() error {
	for _, kind := range []PacketType{PacketCONNECT, PacketPUBLISH, PacketSUBSCRIBE, PacketUNSUBSCRIBE, PacketDISCONNECT} {
		if err := (*s.forKind(kind)).ValidateFor(kind); err != nil {
			return NewProtocolNegotiationError(kind, err)
		}
	}
	return nil
}

// BuildProperties turns Config.Properties into validated property sets.
// Properties only exist in MQTT v5; setting any in 3.1.1 mode is an error.
func (c *Config) BuildProperties() (*PropertySets, error) {
	sets := &PropertySets{}
	if len(c.Properties) > 0 && c.ProtocolVersion != ProtocolV5 {
		return nil, NewConfigError("properties", "properties require MQTT v5")
	}

	for _, spec := range c.Properties {
		kind, ok := propertyCommands[strings.ToLower(spec.Command)]
		if !ok {
			return nil, NewConfigError("properties", "invalid command "+spec.Command)
		}
		id, ok := PropertyByName(spec.Name)
		if !ok {
			return nil, NewConfigError("properties", "invalid property "+spec.Name)
		}
		value, err := ParsePropertyValue(id, spec.Value)
		if err != nil {
			return nil, NewProtocolNegotiationError(kind, err)
		}

		slot := sets.forKind(kind)
		if *slot == nil {
			*slot = &Properties{}
		}
		(*slot).Add(id, value)
	}

	if err := sets.Validate(); err != nil {
		return nil, err
	}
	return sets, nil
}
