package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/meshbridge/internal/protocol"
	"github.com/nishisan-dev/meshbridge/internal/radio"
)

// busyBackoffBase/Max bound the pause between retries when the radio
// adapter reports ErrBusy, per spec.md §4.4's admission-pausing
// requirement for a congested link.
const (
	busyBackoffBase = 5 * time.Millisecond
	busyBackoffMax  = 200 * time.Millisecond
)

// Multiplexer fans multiple reliable Streams out over a single
// radio.Adapter, applying a shared token-bucket limiter to outbound
// frames and a shared retransmission timer queue across all streams.
type Multiplexer struct {
	adapter radio.Adapter
	limiter *outboundLimiter
	timers  *timerQueue
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	streams  map[uint32]*Stream
	closed   bool
	closedCh chan struct{}

	acceptCh chan *Stream // newly opened peer-initiated streams
}

// NewMultiplexer creates a multiplexer driving adapter, bounding outbound
// throughput to bytesPerSec (0 disables limiting).
func NewMultiplexer(adapter radio.Adapter, bytesPerSec int64, cfg Config, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multiplexer{
		adapter:  adapter,
		limiter:  newOutboundLimiter(bytesPerSec),
		timers:   newTimerQueue(),
		cfg:      cfg,
		logger:   logger,
		streams:  make(map[uint32]*Stream),
		closedCh: make(chan struct{}),
		acceptCh: make(chan *Stream, 16),
	}
	return m
}

// Run drives the multiplexer's receive loop and retransmit dispatch until
// ctx is done or the adapter returns a fatal error. It must be run in its
// own goroutine.
func (m *Multiplexer) Run(ctx context.Context) error {
	go m.dispatchRetransmits(ctx)

	for {
		datagram, err := m.adapter.Recv(ctx)
		if err != nil {
			m.Close()
			return err
		}
		f, _, err := protocol.Decode(datagram)
		if err != nil {
			m.logger.Debug("dropping undecodable datagram", "error", err)
			continue
		}
		m.handleFrame(ctx, f)
	}
}

func (m *Multiplexer) dispatchRetransmits(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closedCh:
			return
		case ev, ok := <-m.timers.Events():
			if !ok {
				return
			}
			m.mu.Lock()
			s := m.streams[ev.StreamID]
			m.mu.Unlock()
			if s != nil {
				s.OnRetransmitTimeout(ctx, ev.Seq)
			}
		}
	}
}

func (m *Multiplexer) handleFrame(ctx context.Context, f protocol.Frame) {
	m.mu.Lock()
	s, ok := m.streams[f.StreamID]
	if !ok && f.HasFlag(protocol.FlagSYN) {
		s = newStream(f.StreamID, m.cfg, m, m.timers, m.logger)
		m.streams[f.StreamID] = s
		m.mu.Unlock()
		s.markOpen()
		s.recv.Accept(f) // the peer's SYN consumes sequence number synSeq
		if err := s.sendHandshakeFrame(ctx, protocol.FlagSYN|protocol.FlagACK, s.recv.Ack()); err != nil {
			m.logger.Debug("syn-ack send failed", "stream_id", f.StreamID, "error", err)
		}
		select {
		case m.acceptCh <- s:
		default:
			m.logger.Warn("accept queue full, dropping incoming stream", "stream_id", f.StreamID)
		}
		return
	} else if !ok {
		m.mu.Unlock()
		rst := protocol.Frame{StreamID: f.StreamID, Flags: protocol.FlagRST}
		if err := m.sendFrame(ctx, rst); err != nil {
			m.logger.Debug("rst reply send failed", "stream_id", f.StreamID, "error", err)
		}
		return
	} else {
		m.mu.Unlock()
	}
	if s == nil {
		return
	}
	s.OnFrame(ctx, f)
}

// Open creates a new locally-initiated stream with the given id and sends
// its opening SYN frame.
func (m *Multiplexer) Open(ctx context.Context, streamID uint32) (*Stream, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMultiplexerClosed
	}
	if _, exists := m.streams[streamID]; exists {
		m.mu.Unlock()
		return nil, ErrStreamIDInUse
	}
	s := newStream(streamID, m.cfg, m, m.timers, m.logger)
	m.streams[streamID] = s
	m.mu.Unlock()

	if err := s.sendHandshakeFrame(ctx, protocol.FlagSYN, 0); err != nil {
		m.mu.Lock()
		delete(m.streams, streamID)
		m.mu.Unlock()
		return nil, err
	}
	s.markOpen()
	return s, nil
}

// Accept blocks until a peer-initiated stream arrives, ctx is done, or the
// multiplexer closes.
func (m *Multiplexer) Accept(ctx context.Context) (*Stream, error) {
	select {
	case s := <-m.acceptCh:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closedCh:
		return nil, ErrMultiplexerClosed
	}
}

// sendFrame implements frameSender: it rate-limits and encodes f, then
// hands the datagram to the adapter.
func (m *Multiplexer) sendFrame(ctx context.Context, f protocol.Frame) error {
	buf, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if err := m.limiter.Admit(ctx, len(buf)); err != nil {
		return err
	}
	return m.sendWithBackoff(ctx, buf)
}

// sendWithBackoff retries Send while the adapter reports ErrBusy, pausing
// admission with bounded exponential backoff between attempts rather than
// failing the caller outright for a transient condition.
func (m *Multiplexer) sendWithBackoff(ctx context.Context, buf []byte) error {
	backoff := busyBackoffBase
	for {
		err := m.adapter.Send(ctx, buf)
		if !errors.Is(err, radio.ErrBusy) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > busyBackoffMax {
			backoff = busyBackoffMax
		}
	}
}

// Close tears down every stream, stops the timer queue, and closes the
// underlying adapter.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	close(m.closedCh)
	m.timers.Close()
	for _, s := range streams {
		s.abort(ErrMultiplexerClosed)
	}
	return m.adapter.Close()
}

// StreamCount returns the number of streams currently tracked (open or
// closing), for diagnostics.
func (m *Multiplexer) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
