package mqttsession

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestConsoleErrorHandler(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	warning := NewPublishFailure(3, "t", ReasonQuotaExceeded, "")
	fatal := NewConnectError(ConnackRefusedBadCredentials, ProtocolV311, nil)

	tests := []struct {
		name  string
		quiet bool
		err   error
		want  string
	}{
		{"warning", false, warning, "Warning: Publish 3 failed: Quota exceeded.\n"},
		{"quiet warning", true, warning, ""},
		{"fatal", false, fatal, "Connection error: Connection Refused: bad user name or password.\n"},
		{"quiet fatal", true, errors.New("boom"), "boom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ConsoleErrorHandler(&buf, tt.quiet)(tt.err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNewConsoleLogger(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		quiet bool
		want  LogLevel
	}{
		{"default", false, false, LogLevelInfo},
		{"debug", true, false, LogLevelDebug},
		{"quiet", false, true, LogLevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Debug = tt.debug
			cfg.Quiet = tt.quiet

			var buf bytes.Buffer
			logger := NewConsoleLogger(&buf, cfg)
			assert.Equal(t, tt.want, logger.Level())

			logger.Info("connected", nil)
			assert.Equal(t, tt.want <= LogLevelInfo, buf.Len() > 0)
		})
	}
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "a/b qos=1 3 bytes", FormatMessage(Message{Topic: "a/b", QoS: 1, Payload: []byte("abc")}))
	assert.Equal(t, "x (retained) qos=0 0 bytes", FormatMessage(Message{Topic: "x", Retain: true}))
}
