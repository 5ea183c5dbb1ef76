// Package mqttsession drives the lifecycle of a single MQTT client session
// for protocol levels 3.1.1 and 5.0.
//
// # Overview
//
// A Session owns the connection parameters, the per-packet-kind property
// sets, the topic registry and the publish tracker. It issues requests to a
// Transport and receives typed events through the EventSink interface it
// implements:
//
//	cfg := mqttsession.DefaultConfig()
//	cfg.Topics = []string{"sensors/#"}
//
//	transport, err := mqttsession.NewConnTransportFor(cfg)
//	if err != nil {
//	    return err
//	}
//
//	session, err := mqttsession.NewSession(cfg, transport,
//	    mqttsession.WithLogger(logger),
//	    mqttsession.WithMessageHandler(func(msg mqttsession.Message) {
//	        fmt.Println(msg.Topic)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//
//	shutdown := mqttsession.NewShutdownController()
//	stop := shutdown.Notify()
//	defer stop()
//
//	os.Exit(session.Run(ctx, shutdown))
//
// # Lifecycle
//
// Open validates the configuration and sends CONNECT (Connecting). A
// successful CONNACK moves the session to ConnAckReceived; the topic
// registry then issues one SUBSCRIBE carrying every filter followed by one
// UNSUBSCRIBE per unsubscribe filter, and the session becomes Ready. A
// refused CONNACK is reported as a *ConnectError, a disconnect is requested
// and the session ends in Failed. RequestDisconnect moves Ready to
// Disconnecting; the disconnect acknowledgement ends in Disconnected.
//
// # Publishing
//
// When Config.Topic is set the session publishes Config.Message on the first
// CONNACK. With Config.RepeatCount above one, each successful acknowledgement
// arms a deadline Config.RepeatDelay ahead; the run loop polls it and takes
// the next payload from the PayloadSource. Acknowledgements with a reason
// code of 0x80 or above are reported as *PublishFailure warnings and do not
// count towards the target.
//
// # Shutdown
//
// ShutdownController turns SIGINT/SIGTERM and the Config.Timeout alarm into
// flags checked once per loop iteration. Before any CONNACK the loop exits
// with ExitAborted; afterwards the session disconnects with reason 0x04.
// The exit code prefers ExitTimeout, then a refused CONNACK code, then
// TransportError.Code.
//
// # Transports
//
// ConnTransport frames packets itself over TCP, TLS, Unix sockets,
// WebSocket, QUIC or a SOCKS5/HTTP proxy (see DialerFor). The
// extensions/pahotransport package offers a 3.1.1 transport built on the
// Eclipse Paho client.
package mqttsession
