package mqttsession

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var flagValueNames = map[string]string{
	"h": "host",
	"p": "port",
	"c": "config file",
	"i": "client id",
	"I": "client id prefix",
	"k": "keepalive",
	"q": "QoS",
	"t": "topic",
	"m": "message",
	"V": "protocol version",
	"W": "timeout",
	"D": "property",
}

type propertyFlag []PropertySpec

func (p *propertyFlag) String() string { return fmt.Sprint(len(*p)) }

func (p *propertyFlag) Set(value string) error {
	spec, err := ParsePropertySpec(value)
	if err != nil {
		return err
	}
	*p = append(*p, spec)
	return nil
}

// ParseFlags applies command line flags to cfg. When -c names a YAML file it
// is loaded first and the other flags override it. Errors are written to out
// followed by the usage line, and wrap ErrUsage.
func ParseFlags(name string, args []string, cfg *Config, out io.Writer) error {
	var (
		host, configPath, id, prefix, topic, message, version string
		port, keepalive, qos, timeout                         int
		debug                                                 bool
		props                                                 propertyFlag
	)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&host, "h", cfg.Host, "broker host")
	fs.IntVar(&port, "p", cfg.Port, "broker port")
	fs.StringVar(&configPath, "c", "", "YAML configuration file")
	fs.StringVar(&id, "i", cfg.ID, "client id")
	fs.StringVar(&prefix, "I", cfg.IDPrefix, "client id prefix")
	fs.IntVar(&keepalive, "k", cfg.Keepalive, "keepalive in seconds")
	fs.IntVar(&qos, "q", int(cfg.QoS), "QoS for publishing")
	fs.StringVar(&topic, "t", cfg.Topic, "publish topic")
	fs.StringVar(&message, "m", cfg.Message, "message payload")
	fs.StringVar(&version, "V", cfg.ProtocolVersion.String(), "protocol version, 5 or 311")
	fs.IntVar(&timeout, "W", int(cfg.Timeout/time.Second), "timeout in seconds")
	fs.Var(&props, "D", "property as command:name=value")
	fs.BoolVar(&debug, "d", cfg.Debug, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return usageError(out, name, err)
	}
	if fs.NArg() > 0 {
		return usageError(out, name, fmt.Errorf("unexpected argument %q", fs.Arg(0)))
	}

	if configPath != "" {
		loaded, err := LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return fmt.Errorf("%w: %w", ErrUsage, err)
		}
		*cfg = *loaded
	}

	var applyErr error
	fs.Visit(func(f *flag.Flag) {
		if applyErr != nil {
			return
		}
		switch f.Name {
		case "h":
			cfg.Host = host
		case "p":
			cfg.Port = port
		case "i":
			cfg.ID = id
		case "I":
			cfg.IDPrefix = prefix
		case "k":
			cfg.Keepalive = keepalive
		case "q":
			if qos < 0 || qos > 1 {
				applyErr = NewConfigError("-q", "QoS must be 0 or 1")
				return
			}
			cfg.QoS = byte(qos)
		case "t":
			cfg.Topic = topic
		case "m":
			cfg.Message = message
		case "V":
			v, ok := ParseProtocolVersion(version)
			if !ok {
				applyErr = NewConfigError("-V", "invalid protocol version "+strconv.Quote(version))
				return
			}
			cfg.ProtocolVersion = v
		case "W":
			cfg.Timeout = time.Duration(timeout) * time.Second
		case "D":
			cfg.Properties = append(cfg.Properties, props...)
		case "d":
			cfg.Debug = debug
		}
	})
	if applyErr != nil {
		fmt.Fprintln(out, applyErr)
		return fmt.Errorf("%w: %w", ErrUsage, applyErr)
	}

	return nil
}

func usageError(out io.Writer, name string, err error) error {
	if missing, ok := strings.CutPrefix(err.Error(), "flag needs an argument: -"); ok {
		if what, known := flagValueNames[missing]; known {
			fmt.Fprintf(out, "Error: -%s argument given but no %s specified.\n\n", missing, what)
		}
	} else if !strings.HasPrefix(err.Error(), "flag provided but not defined") {
		fmt.Fprintf(out, "Error: %v\n\n", err)
	}
	fmt.Fprintln(out, Usage(name))
	return fmt.Errorf("%w: %w", ErrUsage, err)
}

// Usage returns the one-line usage text.
func Usage(name string) string {
	return "Usage: " + name + " [-h host] [-p port] [-c config] [-i id] [-I id_prefix] [-k keepalive] " +
		"[-q qos] [-t topic] [-m message] [-V 5|311] [-W timeout] [-D command:name=value] [-d]"
}
