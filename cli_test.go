package mqttsession

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	cfg := DefaultConfig()
	var out bytes.Buffer

	err := ParseFlags("v5_send", []string{
		"-h", "broker.local", "-p", "8883", "-i", "me", "-k", "15",
		"-q", "1", "-t", "a/b", "-m", "payload", "-V", "311", "-W", "3",
		"-D", "connect:session-expiry-interval=60", "-d",
	}, cfg, &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())

	assert.Equal(t, "broker.local", cfg.Host)
	assert.Equal(t, 8883, cfg.Port)
	assert.Equal(t, "me", cfg.ID)
	assert.Equal(t, 15, cfg.Keepalive)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.Equal(t, "a/b", cfg.Topic)
	assert.Equal(t, "payload", cfg.Message)
	assert.Equal(t, ProtocolV311, cfg.ProtocolVersion)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []PropertySpec{{Command: "connect", Name: "session-expiry-interval", Value: "60"}}, cfg.Properties)
}

func TestParseFlagsKeepsUnsetValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topic = "from-code"

	require.NoError(t, ParseFlags("tool", []string{"-p", "1884"}, cfg, &bytes.Buffer{}))
	assert.Equal(t, "from-code", cfg.Topic)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 1884, cfg.Port)
}

func TestParseFlagsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: file.local\nport: 1999\ntopic: from/file\n"), 0o600))

	cfg := DefaultConfig()
	require.NoError(t, ParseFlags("tool", []string{"-c", path, "-p", "2000"}, cfg, &bytes.Buffer{}))

	assert.Equal(t, "file.local", cfg.Host)
	assert.Equal(t, 2000, cfg.Port, "flags override the file")
	assert.Equal(t, "from/file", cfg.Topic)
}

func TestParseFlagsErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantOut string
	}{
		{"missing host", []string{"-h"}, "Error: -h argument given but no host specified.\n\n"},
		{"missing topic", []string{"-t"}, "Error: -t argument given but no topic specified.\n\n"},
		{"unknown flag", []string{"-Z"}, ""},
		{"stray argument", []string{"extra"}, "Error: unexpected argument \"extra\"\n\n"},
		{"bad port", []string{"-p", "abc"}, "Error: invalid value"},
		{"qos 2", []string{"-q", "2"}, "Error: -q: QoS must be 0 or 1"},
		{"bad version", []string{"-V", "4.0"}, "Error: -V: invalid protocol version \"4.0\""},
		{"bad property", []string{"-D", "connect"}, "Error: invalid value"},
		{"missing config", []string{"-c", "/does/not/exist.yaml"}, "Error: read config:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := ParseFlags("tool", tt.args, DefaultConfig(), &out)

			assert.ErrorIs(t, err, ErrUsage)
			assert.True(t, strings.HasPrefix(out.String(), tt.wantOut), out.String())
		})
	}
}

func TestParseFlagsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	err := ParseFlags("v3_recv", []string{"-k"}, DefaultConfig(), &out)

	require.Error(t, err)
	assert.Equal(t, "Error: -k argument given but no keepalive specified.\n\n"+Usage("v3_recv")+"\n", out.String())
	assert.True(t, strings.HasPrefix(Usage("v3_recv"), "Usage: v3_recv [-h host]"))
}
