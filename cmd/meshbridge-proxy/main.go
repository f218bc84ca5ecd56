// Command meshbridge-proxy is the client side of the mesh tunnel: for
// every TCP connection an HTTP CONNECT front-end hands it, it opens one
// reliable stream to the gateway node and relays bytes in both
// directions. Parsing the CONNECT request itself, the terminal UI, and
// the web UI are external collaborators outside this module's scope;
// this binary wires config, logging, the radio adapter, and the
// transport multiplexer, and exposes the one function (OpenTunnel) those
// front ends call to get a byte-stream to the gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/meshbridge/internal/config"
	"github.com/nishisan-dev/meshbridge/internal/logging"
	"github.com/nishisan-dev/meshbridge/internal/radio"
	"github.com/nishisan-dev/meshbridge/internal/transport"
)

const (
	exitOK = iota
	exitConfigError
	exitRadioUnreachable
	exitProtocolError
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/meshbridge/proxy.yaml", "path to proxy config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitConfigError
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		logger.Error("radio adapter unavailable", "error", err)
		return exitRadioUnreachable
	}

	tcfg := transport.Config{
		WindowSize:       cfg.Transport.WindowSize,
		RetransmitBase:   cfg.Transport.RetransmitTimeout,
		RetransmitMax:    cfg.Transport.RetransmitTimeout * 4,
		MaxRetries:       cfg.Transport.MaxRetransmits,
		ChunkPayloadSize: cfg.Transport.ChunkPayloadSize,
	}
	mux := transport.NewMultiplexer(adapter, cfg.RateLimit.BytesPerSecRaw, tcfg, logger)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- mux.Run(ctx) }()

	logger.Info("meshbridge-proxy ready, awaiting CONNECT front-end", "node_id", cfg.Node.ID)

	select {
	case <-ctx.Done():
		mux.Close()
		return exitOK
	case err := <-runErrCh:
		if err != nil && ctx.Err() == nil {
			logger.Error("multiplexer stopped unexpectedly", "error", err)
			return exitProtocolError
		}
		return exitOK
	}
}

// OpenTunnel opens one reliable stream to the gateway node and returns it
// as an io.ReadWriteCloser, the interface the (out-of-scope) HTTP CONNECT
// front-end relays a TCP connection's bytes over.
func OpenTunnel(ctx context.Context, mux *transport.Multiplexer) (io.ReadWriteCloser, error) {
	const maxAttempts = 8
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		stream, err := mux.Open(ctx, newStreamID())
		if err == nil {
			return &streamConn{ctx: ctx, stream: stream}, nil
		}
		lastErr = err
		if err != transport.ErrStreamIDInUse {
			break
		}
	}
	return nil, fmt.Errorf("proxy: opening tunnel stream: %w", lastErr)
}

// streamConn adapts transport.Stream's context-taking Read/Write/Close to
// the plain io.ReadWriteCloser shape the CONNECT relay loop expects.
type streamConn struct {
	ctx    context.Context
	stream *transport.Stream
}

func (c *streamConn) Read(p []byte) (int, error)  { return c.stream.Read(c.ctx, p) }
func (c *streamConn) Write(p []byte) (int, error) { return c.stream.Write(c.ctx, p) }
func (c *streamConn) Close() error                { return c.stream.Close(c.ctx) }

func newStreamID() uint32 {
	id := rand.Uint32()
	for id == 0 {
		id = rand.Uint32()
	}
	return id
}

func newAdapter(cfg *config.Config, logger *slog.Logger) (radio.Adapter, error) {
	if !cfg.Radio.Simulated {
		return nil, fmt.Errorf("no Meshtastic radio driver wired into this build; run with radio.simulated: true for local testing")
	}
	link := radio.NewSimulatedLink(radio.LinkParams{
		DropRate:      cfg.Radio.DropRate,
		DuplicateRate: cfg.Radio.DuplicateRate,
		MaxDelay:      time.Duration(cfg.Radio.MaxDelayMS) * time.Millisecond,
		Reorder:       cfg.Radio.ReorderWindow > 0,
		MaxInFlight:   cfg.Radio.MaxInFlight,
		BusyWindow:    time.Duration(cfg.Radio.BusyWindowMS) * time.Millisecond,
	})
	logger.Warn("using simulated radio adapter, not a real Meshtastic link")
	return link.NewAdapter(cfg.Node.ID), nil
}
