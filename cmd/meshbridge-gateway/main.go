// Command meshbridge-gateway is the command-and-control side of the mesh
// link: it accepts peer-initiated streams, dispatches the enveloped
// request to a registered command handler, and sends the response back.
// The actual command business logic (beyond the echo/digest/health
// reference handlers) is an external collaborator; this binary only wires
// config, logging, the radio adapter, the transport multiplexer, and the
// envelope gateway together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishisan-dev/meshbridge/internal/config"
	"github.com/nishisan-dev/meshbridge/internal/envelope"
	"github.com/nishisan-dev/meshbridge/internal/health"
	"github.com/nishisan-dev/meshbridge/internal/housekeeping"
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
	configPath := flag.String("config", "/etc/meshbridge/gateway.yaml", "path to gateway config file")
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

	registry := envelope.NewRegistry()
	registry.Register("echo", envelope.EchoHandler())
	registry.Register("digest", envelope.DigestHandler())

	monitor := health.NewMonitor(logger, 15*time.Second, "/", health.DefaultThresholds())
	monitor.Start()
	defer monitor.Stop()
	registry.Register("health", envelope.HealthHandler(monitor))

	dedup := envelope.NewDedupCache(cfg.Envelope.DedupWindow)
	reassembly := envelope.NewReassemblyManager(cfg.Envelope.ReassemblyTTL, logger)

	archive, err := newArchiveSink(ctx, cfg, logger)
	if err != nil {
		logger.Error("archive sink unavailable", "error", err)
		return exitConfigError
	}

	sweeps := []*housekeeping.Sweep{
		{
			Name:     "reassembly-sweep",
			Schedule: cfg.Housekeeping.SweepSchedule,
			Run: func(ctx context.Context) (int, error) {
				return reassembly.Sweep(), nil
			},
		},
		{
			Name:     "dedup-stats",
			Schedule: cfg.Housekeeping.SweepSchedule,
			Run: func(ctx context.Context) (int, error) {
				return dedup.Len(), nil
			},
		},
	}
	scheduler, err := housekeeping.NewScheduler(logger, sweeps)
	if err != nil {
		logger.Error("invalid housekeeping schedule", "error", err)
		return exitConfigError
	}
	scheduler.Start()
	defer scheduler.Stop(context.Background())

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

	go acceptLoop(ctx, mux, registry, dedup, reassembly, archive, logger)

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

// acceptLoop accepts peer-initiated streams and dispatches each one's
// envelope to the command registry, one goroutine per stream so a slow
// handler never blocks other inbound connections.
func acceptLoop(ctx context.Context, mux *transport.Multiplexer, registry *envelope.Registry, dedup *envelope.DedupCache, reassembly *envelope.ReassemblyManager, archive *envelope.ArchiveSink, logger *slog.Logger) {
	for {
		stream, err := mux.Accept(ctx)
		if err != nil {
			return
		}
		go serveStream(ctx, stream, registry, dedup, reassembly, archive, logger)
	}
}

func serveStream(ctx context.Context, stream *transport.Stream, registry *envelope.Registry, dedup *envelope.DedupCache, reassembly *envelope.ReassemblyManager, archive *envelope.ArchiveSink, logger *slog.Logger) {
	sessionID := fmt.Sprintf("stream-%d", stream.ID())
	rec, body, err := envelope.ReceiveEnvelope(ctx, stream, reassembly, sessionID, logger)
	if err != nil {
		logger.Warn("envelope receive failed", "stream_id", stream.ID(), "error", err)
		return
	}

	dedupKey := rec.ID
	if dedupKey == "" {
		dedupKey = fmt.Sprintf("stream-%d:%s", stream.ID(), rec.Command)
	}
	if dedup.Seen(dedupKey) {
		logger.Debug("duplicate envelope suppressed", "id", rec.ID, "stream_id", stream.ID(), "command", rec.Command)
		return
	}

	if err := archive.Archive(ctx, sessionID, rec.Command, body); err != nil {
		logger.Warn("archive failed", "stream_id", stream.ID(), "command", rec.Command, "error", err)
	}

	respBody, err := registry.Dispatch(ctx, rec.Command, body)
	if err != nil {
		logger.Warn("command handler failed", "command", rec.Command, "error", err)
		return
	}

	respRec := envelope.Record{ID: rec.ID, Command: rec.Command, Compression: rec.Compression, OriginalLength: uint32(len(respBody))}
	if err := envelope.SendEnvelope(ctx, stream, respRec, respBody, envelope.StrategySimple); err != nil {
		logger.Warn("envelope send failed", "stream_id", stream.ID(), "error", err)
	}
}

// newArchiveSink builds the optional S3 audit sink from cfg.Archive. It
// returns a nil *envelope.ArchiveSink (not an error) when archiving is
// disabled; ArchiveSink.Archive treats a nil receiver as a no-op.
func newArchiveSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*envelope.ArchiveSink, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}

	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Archive.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Archive.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config for archive sink: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = &cfg.Archive.Endpoint
		}
	})
	logger.Info("archive sink enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	return envelope.NewArchiveSink(client, cfg.Archive.Bucket, cfg.Archive.Prefix), nil
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
