package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/meshbridge/internal/protocol"
)

// streamStatus tracks a stream's lifecycle, mirroring the states a
// connection-oriented protocol moves through: handshake, open data
// transfer, a local or peer-initiated close, and terminal reset.
type streamStatus int

const (
	statusHandshaking streamStatus = iota
	statusOpen
	statusClosing
	statusClosed
	statusReset
)

// synSeq is the sequence number a stream's opening handshake frame (SYN,
// or SYN+ACK when accepting a peer-initiated stream) always carries: it is
// the first frame ever inserted into a freshly created send window, which
// starts counting from 0.
const synSeq uint32 = 0

// Config bounds a stream's retransmission, window, and chunking behavior.
type Config struct {
	WindowSize       int
	RetransmitBase   time.Duration
	RetransmitMax    time.Duration
	MaxRetries       int
	ChunkPayloadSize int // max bytes per frame payload; must fit one radio datagram
}

// DefaultConfig returns the stream tuning used when a caller does not
// override it.
func DefaultConfig() Config {
	return Config{
		WindowSize:       32,
		RetransmitBase:   500 * time.Millisecond,
		RetransmitMax:    8 * time.Second,
		MaxRetries:       6,
		ChunkPayloadSize: 180,
	}
}

// frameSender is the narrow interface a Stream needs from its owning
// Multiplexer to emit frames onto the link. Depending on the concrete
// Multiplexer, sending may itself block on outbound rate limiting.
type frameSender interface {
	sendFrame(ctx context.Context, f protocol.Frame) error
}

// Stream is a single reliable, ordered byte-stream multiplexed over the
// mesh link. Its Read, Write and Close methods take a context, so it does
// not satisfy io.Reader, io.Writer or io.Closer directly.
type Stream struct {
	id     uint32
	cfg    Config
	sender frameSender
	timers *timerQueue
	logger *slog.Logger

	mu        sync.Mutex
	status    streamStatus
	statusErr error

	send *sendWindow
	recv *recvWindow

	readBuf    bytes.Buffer
	readCond   *sync.Cond
	closeOnce  sync.Once
	closedCh   chan struct{}
	peerClosed bool
}

// newStream constructs a stream bound to the given id, owned by sender for
// outbound frames and timers for retransmission scheduling.
func newStream(id uint32, cfg Config, sender frameSender, timers *timerQueue, logger *slog.Logger) *Stream {
	if cfg.ChunkPayloadSize <= 0 || cfg.ChunkPayloadSize > protocol.MaxPayloadSize {
		cfg.ChunkPayloadSize = protocol.MaxPayloadSize
	}
	s := &Stream{
		id:       id,
		cfg:      cfg,
		sender:   sender,
		timers:   timers,
		logger:   logger,
		status:   statusHandshaking,
		send:     newSendWindow(cfg.WindowSize, 0),
		recv:     newRecvWindow(cfg.WindowSize*4, 0),
		closedCh: make(chan struct{}),
	}
	s.readCond = sync.NewCond(&s.mu)
	return s
}

// ID returns the stream's identifier on the multiplexer.
func (s *Stream) ID() uint32 { return s.id }

// markOpen transitions the stream out of handshaking once SYN/SYN-ACK has
// completed.
func (s *Stream) markOpen() {
	s.mu.Lock()
	if s.status == statusHandshaking {
		s.status = statusOpen
	}
	s.mu.Unlock()
}

// sendHandshakeFrame emits this stream's own opening frame (SYN for an
// active open, SYN+ACK for a passive accept), routing it through the send
// window exactly like a data frame so it consumes sequence number synSeq
// and participates in retransmission and ACK accounting like spec.md's
// handshake requires.
func (s *Stream) sendHandshakeFrame(ctx context.Context, flags uint8, ack uint32) error {
	f := protocol.Frame{StreamID: s.id, Ack: ack, Flags: flags}
	seq := s.send.Insert(f)
	f.Seq = seq
	if err := s.sender.sendFrame(ctx, f); err != nil {
		s.send.Remove(seq)
		return err
	}
	s.timers.Schedule(s.id, seq, s.retransmitInterval(0))
	return nil
}

// retransmitInterval returns the backoff delay for the given attempt
// count, doubling from RetransmitBase up to RetransmitMax.
func (s *Stream) retransmitInterval(tries int) time.Duration {
	d := s.cfg.RetransmitBase
	for i := 0; i < tries && d < s.cfg.RetransmitMax; i++ {
		d *= 2
	}
	if d > s.cfg.RetransmitMax {
		d = s.cfg.RetransmitMax
	}
	return d
}

// Write sends p as one or more data frames, blocking until every frame has
// a free send-window slot. It returns once frames are handed to the
// sender, not once they are acknowledged.
func (s *Stream) Write(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	if s.status == statusClosed || s.status == statusReset {
		err := s.statusErr
		s.mu.Unlock()
		if err == nil {
			err = ErrStreamClosed
		}
		return 0, err
	}
	s.mu.Unlock()

	maxChunk := s.cfg.ChunkPayloadSize
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}

		if !s.send.WaitForSlot(s.closedCh) {
			return written, ErrStreamClosed
		}

		ack := s.recv.Ack()
		f := protocol.Frame{StreamID: s.id, Ack: ack, Flags: protocol.FlagACK, Payload: append([]byte(nil), chunk...)}
		seq := s.send.Insert(f)
		f.Seq = seq

		if err := s.sender.sendFrame(ctx, f); err != nil {
			s.send.Remove(seq)
			return written, err
		}
		s.timers.Schedule(s.id, seq, s.retransmitInterval(0))

		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// Read copies reassembled, in-order payload bytes into p, blocking until
// data is available, the stream is closed, or ctx is done.
func (s *Stream) Read(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.readBuf.Len() == 0 {
		if s.status == statusReset {
			err := s.statusErr
			if err == nil {
				err = ErrStreamReset
			}
			return 0, err
		}
		if s.status == statusClosed {
			return 0, ErrStreamClosed
		}
		if s.peerClosed {
			return 0, nil // EOF-equivalent after the peer's FIN; Closed() does not report it
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.readCond.Broadcast()
				s.mu.Unlock()
			case <-done:
			}
		}()
		s.readCond.Wait()
		close(done)

		if err := ctx.Err(); err != nil && s.readBuf.Len() == 0 {
			return 0, err
		}
	}
	return s.readBuf.Read(p)
}

// OnFrame delivers an inbound frame addressed to this stream. It handles
// data delivery, ACK/NACK processing, and control flags (SYN/FIN/RST).
func (s *Stream) OnFrame(ctx context.Context, f protocol.Frame) {
	if f.HasFlag(protocol.FlagRST) {
		s.abort(ErrStreamReset)
		return
	}

	if f.HasFlag(protocol.FlagSYN) && !f.HasFlag(protocol.FlagACK) {
		// Duplicate inbound SYN for a stream we already accepted: record it
		// against the receive window (harmless if already consumed) and
		// resend our own handshake frame at its fixed seq, rather than
		// allocating a second stream or consuming a new sequence number.
		s.recv.Accept(f)
		ack := s.recv.Ack()
		synAck := protocol.Frame{StreamID: s.id, Ack: ack, Seq: synSeq, Flags: protocol.FlagSYN | protocol.FlagACK}
		_ = s.sender.sendFrame(ctx, synAck)
		return
	}

	// SYN and FIN consume one sequence number each, like data frames, so
	// they are accounted for by the receive window the same way.
	consumesSeq := len(f.Payload) > 0 || f.HasFlag(protocol.FlagSYN) || f.HasFlag(protocol.FlagFIN)
	if consumesSeq {
		dup, delivered := s.recv.Accept(f)
		if !dup {
			s.mu.Lock()
			for _, chunk := range delivered {
				if len(chunk) > 0 {
					s.readBuf.Write(chunk)
				}
			}
			if len(delivered) > 0 {
				s.readCond.Broadcast()
			}
			s.mu.Unlock()
		}
		s.sendAck(ctx)
	}

	if f.HasFlag(protocol.FlagACK) {
		cleared := s.send.Ack(f.Ack)
		for _, seq := range cleared {
			s.timers.Cancel(s.id, seq)
		}
	}

	if f.HasFlag(protocol.FlagNACK) {
		s.retransmit(ctx, f.Seq)
	}

	if f.HasFlag(protocol.FlagFIN) {
		s.mu.Lock()
		s.peerClosed = true
		s.readCond.Broadcast()
		s.mu.Unlock()
	}
}

// sendAck emits a pure ACK frame reflecting the receiver window's current
// cumulative ack point, followed by one NACK for every current gap.
func (s *Stream) sendAck(ctx context.Context) {
	ack := s.recv.Ack()
	f := protocol.Frame{StreamID: s.id, Ack: ack, Flags: protocol.FlagACK}
	_ = s.sender.sendFrame(ctx, f)

	for _, gapSeq := range s.recv.Gaps() {
		nack := protocol.Frame{StreamID: s.id, Seq: gapSeq, Ack: ack, Flags: protocol.FlagNACK}
		_ = s.sender.sendFrame(ctx, nack)
	}
}

// OnRetransmitTimeout is invoked by the multiplexer when the shared timer
// queue fires for (s.id, seq). It resends the frame, or resets the stream
// if its retry budget is exhausted.
func (s *Stream) OnRetransmitTimeout(ctx context.Context, seq uint32) {
	s.retransmit(ctx, seq)
}

func (s *Stream) retransmit(ctx context.Context, seq uint32) {
	f, tries, ok := s.send.NackRetransmit(seq)
	if !ok {
		return // already acked
	}
	if tries > s.cfg.MaxRetries {
		s.logger.Warn("stream exceeded retry budget, resetting", "stream_id", s.id, "seq", seq, "tries", tries)
		s.send.Remove(seq)
		s.timers.Cancel(s.id, seq)
		s.abort(errors.New("transport: retry budget exhausted"))
		return
	}

	f.Ack = s.recv.Ack()
	if err := s.sender.sendFrame(ctx, f); err != nil {
		s.logger.Debug("retransmit send failed", "stream_id", s.id, "seq", seq, "error", err)
	}
	s.timers.Schedule(s.id, seq, s.retransmitInterval(tries))
}

// Close sends FIN once and marks the stream closed, cancelling its
// retransmit timers, so the FIN is not retransmitted. It does not wait for
// the peer's acknowledgment of the close.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.status == statusClosed || s.status == statusReset {
		s.mu.Unlock()
		return nil
	}
	s.status = statusClosing
	s.mu.Unlock()

	f := protocol.Frame{StreamID: s.id, Ack: s.recv.Ack(), Flags: protocol.FlagFIN}
	seq := s.send.Insert(f)
	f.Seq = seq
	err := s.sender.sendFrame(ctx, f)

	s.mu.Lock()
	s.status = statusClosed
	s.mu.Unlock()
	s.timers.CancelStream(s.id)
	s.closeOnce.Do(func() { close(s.closedCh) })
	s.readCond.Broadcast()
	return err
}

// abort forcibly transitions the stream to reset state, releasing any
// blocked readers/writers with err.
func (s *Stream) abort(err error) {
	s.mu.Lock()
	if s.status == statusReset || s.status == statusClosed {
		s.mu.Unlock()
		return
	}
	s.status = statusReset
	s.statusErr = err
	s.mu.Unlock()

	s.timers.CancelStream(s.id)
	s.closeOnce.Do(func() { close(s.closedCh) })
	s.mu.Lock()
	s.readCond.Broadcast()
	s.mu.Unlock()
}

// Closed reports whether the stream has reached a terminal state.
func (s *Stream) Closed() bool {
	select {
	case <-s.closedCh:
		return true
	default:
		return false
	}
}
