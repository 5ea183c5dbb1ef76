package mqttsession

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
)

// ConsoleErrorHandler writes reported errors to w, one per line: warnings
// in yellow, everything else in red. With quiet set only fatal errors
// are printed.
func ConsoleErrorHandler(w io.Writer, quiet bool) func(error) {
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed)

	return func(err error) {
		var pf *PublishFailure
		var tv *TopicValidationError
		if errors.As(err, &pf) || errors.As(err, &tv) {
			if !quiet {
				warn.Fprintln(w, err.Error())
			}
			return
		}
		fail.Fprintln(w, err.Error())
	}
}

// NewConsoleLogger returns a text slog logger at info level, or debug when
// cfg.Debug is set.
func NewConsoleLogger(w io.Writer, cfg *Config) *SlogLogger {
	level := LogLevelInfo
	if cfg.Debug {
		level = LogLevelDebug
	}
	if cfg.Quiet {
		level = LogLevelError
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(handler), level)
}

// FormatMessage renders a received message the way the receive tools print it.
func FormatMessage(msg Message) string {
	retained := ""
	if msg.Retain {
		retained = " (retained)"
	}
	return fmt.Sprintf("%s%s qos=%d %d bytes", msg.Topic, retained, msg.QoS, len(msg.Payload))
}
