package envelope

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/meshbridge/internal/radio"
)

// Raw envelope-chunk datagram header, used when a reliability strategy
// addresses the radio adapter directly instead of riding a reliable
// transport stream. Unlike the in-stream chunk header (chunk.go), nothing
// underneath this framing retransmits a dropped datagram: the strategy
// itself — NACK-driven selective repeat, or XOR parity — is the only
// thing standing between the payload and the link's real drop rate.
//
//	offset size field
//	  0    2   magic       "MB"
//	  2    1   version     u8
//	  3    1   flags       ack(0x01) | nack(0x02) | parity(0x04)
//	  4    8   id_prefix   first 8 bytes of the envelope id, zero-padded
//	 12    2   sequence    u16 LE, 1-based
//	 14    2   total       u16 LE
const datagramHeaderSize = 16

const datagramVersion = 1

const (
	datagramFlagACK    uint8 = 0x01
	datagramFlagNACK   uint8 = 0x02
	datagramFlagParity uint8 = 0x04
)

type datagramHeader struct {
	Flags    uint8
	IDPrefix [8]byte
	Sequence uint16
	Total    uint16
}

func encodeDatagramHeader(h datagramHeader) []byte {
	buf := make([]byte, datagramHeaderSize)
	buf[0], buf[1] = 'M', 'B'
	buf[2] = datagramVersion
	buf[3] = h.Flags
	copy(buf[4:12], h.IDPrefix[:])
	binary.LittleEndian.PutUint16(buf[12:14], h.Sequence)
	binary.LittleEndian.PutUint16(buf[14:16], h.Total)
	return buf
}

func decodeDatagramHeader(buf []byte) (datagramHeader, error) {
	if len(buf) < datagramHeaderSize || buf[0] != 'M' || buf[1] != 'B' {
		return datagramHeader{}, ErrTruncatedChunk
	}
	var h datagramHeader
	h.Flags = buf[3]
	copy(h.IDPrefix[:], buf[4:12])
	h.Sequence = binary.LittleEndian.Uint16(buf[12:14])
	h.Total = binary.LittleEndian.Uint16(buf[14:16])
	return h, nil
}

func idPrefix(id string) [8]byte {
	var p [8]byte
	copy(p[:], id)
	return p
}

// DatagramConfig tunes the raw-datagram reliability strategies: how many
// feedback rounds the selective-repeat retry loop waits for NACKs before
// giving up, and how long each wait lasts.
type DatagramConfig struct {
	AckTimeout time.Duration
	MaxRetries int
}

// DefaultDatagramConfig returns the tuning used when a caller does not
// override it.
func DefaultDatagramConfig() DatagramConfig {
	return DatagramConfig{AckTimeout: 150 * time.Millisecond, MaxRetries: 5}
}

// SendEnvelopeDatagram writes rec's header followed by body's chunks
// directly over adapter, with no transport stream underneath. strategy
// must be StrategyWindowedSelective (NACK-driven selective repeat) or
// StrategyParityWindow (XOR parity, no retransmission round trip); the
// stream-ring strategies (Simple, Staged) have nothing to offer here since
// their pacing assumes an already-reliable writer.
func SendEnvelopeDatagram(ctx context.Context, adapter radio.Adapter, rec Record, body []byte, strategy Strategy, cfg DatagramConfig) error {
	prefix := idPrefix(rec.ID)
	header := EncodeRecordHeader(rec)
	if err := sendDatagramFrame(ctx, adapter, datagramHeader{IDPrefix: prefix}, header); err != nil {
		return fmt.Errorf("envelope: send header datagram: %w", err)
	}

	chunks := Split(body)
	switch strategy {
	case StrategyParityWindow:
		return sendDatagramParityWindow(ctx, adapter, prefix, chunks)
	case StrategyWindowedSelective:
		return sendDatagramWindowedSelective(ctx, adapter, prefix, chunks, cfg)
	default:
		return fmt.Errorf("envelope: strategy %d has no raw-datagram path", strategy)
	}
}

func sendDatagramFrame(ctx context.Context, adapter radio.Adapter, h datagramHeader, payload []byte) error {
	buf := append(encodeDatagramHeader(h), payload...)
	return adapter.Send(ctx, buf)
}

func sendDatagramChunk(ctx context.Context, adapter radio.Adapter, prefix [8]byte, total int, c Chunk, flags uint8) error {
	h := datagramHeader{Flags: flags, IDPrefix: prefix, Sequence: uint16(c.GlobalSeq) + 1, Total: uint16(total)}
	return sendDatagramFrame(ctx, adapter, h, c.Payload)
}

// sendDatagramWindowedSelective sends every chunk once, then retransmits
// only the chunks the receiver actually NACKs, stopping as soon as the
// receiver's completion ACK arrives or cfg.MaxRetries rounds elapse.
func sendDatagramWindowedSelective(ctx context.Context, adapter radio.Adapter, prefix [8]byte, chunks []Chunk, cfg DatagramConfig) error {
	total := len(chunks)
	bySeq := make(map[uint16]Chunk, total)
	for _, c := range chunks {
		bySeq[uint16(c.GlobalSeq)+1] = c
		if err := sendDatagramChunk(ctx, adapter, prefix, total, c, 0); err != nil {
			return fmt.Errorf("envelope: send chunk %d: %w", c.GlobalSeq, err)
		}
	}

	for round := 0; round < cfg.MaxRetries; round++ {
		fb := awaitDatagramFeedback(ctx, adapter, prefix, cfg.AckTimeout)
		if fb.complete {
			return nil
		}
		for seq := range fb.nacked {
			c, ok := bySeq[seq]
			if !ok {
				continue
			}
			if err := sendDatagramChunk(ctx, adapter, prefix, total, c, 0); err != nil {
				return fmt.Errorf("envelope: resend chunk %d: %w", c.GlobalSeq, err)
			}
		}
	}
	return nil
}

// sendDatagramParityWindow sends data chunks with an XOR parity chunk
// appended after every ParityWindowSize chunks, recovering exactly one
// loss per window with no retransmission round trip.
func sendDatagramParityWindow(ctx context.Context, adapter radio.Adapter, prefix [8]byte, chunks []Chunk) error {
	total := len(chunks)
	for i := 0; i < len(chunks); i += ParityWindowSize {
		end := i + ParityWindowSize
		if end > len(chunks) {
			end = len(chunks)
		}
		window := chunks[i:end]
		for _, c := range window {
			if err := sendDatagramChunk(ctx, adapter, prefix, total, c, 0); err != nil {
				return fmt.Errorf("envelope: send chunk %d: %w", c.GlobalSeq, err)
			}
		}
		parity := Chunk{GlobalSeq: window[0].GlobalSeq, TotalChunks: uint32(len(window)), Payload: ComputeParity(window)}
		h := datagramHeader{Flags: datagramFlagParity, IDPrefix: prefix, Sequence: uint16(parity.GlobalSeq) + 1, Total: uint16(len(window))}
		if err := sendDatagramFrame(ctx, adapter, h, parity.Payload); err != nil {
			return fmt.Errorf("envelope: send parity for window starting %d: %w", window[0].GlobalSeq, err)
		}
	}
	return nil
}

// datagramFeedback is what a sender learns back from the receiver during
// one retry round: either the receiver signaled it has everything
// (complete), or a set of wire sequence numbers it is still missing.
type datagramFeedback struct {
	complete bool
	nacked   map[uint16]struct{}
}

// awaitDatagramFeedback listens for up to timeout for ACK/NACK datagrams
// matching prefix, returning as soon as a completion ACK arrives or the
// timeout elapses.
func awaitDatagramFeedback(ctx context.Context, adapter radio.Adapter, prefix [8]byte, timeout time.Duration) datagramFeedback {
	fb := datagramFeedback{nacked: make(map[uint16]struct{})}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fb
		}
		recvCtx, cancel := context.WithTimeout(ctx, remaining)
		buf, err := adapter.Recv(recvCtx)
		cancel()
		if err != nil {
			return fb
		}
		h, err := decodeDatagramHeader(buf)
		if err != nil || h.IDPrefix != prefix {
			continue
		}
		if h.Flags&datagramFlagACK != 0 {
			fb.complete = true
			return fb
		}
		if h.Flags&datagramFlagNACK != 0 {
			fb.nacked[h.Sequence] = struct{}{}
		}
	}
}

// ReceiveEnvelopeDatagram reads one envelope sent via SendEnvelopeDatagram
// directly off adapter. For StrategyWindowedSelective it actively NACKs
// chunks the reassembly session's gap tracker flags as persistently
// missing; for StrategyParityWindow it instead recovers a missing chunk
// per window from the window's parity chunk.
func ReceiveEnvelopeDatagram(ctx context.Context, adapter radio.Adapter, manager *ReassemblyManager, sessionID string, strategy Strategy, logger *slog.Logger) (Record, []byte, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var rec Record
	var prefix [8]byte
	for {
		buf, err := adapter.Recv(ctx)
		if err != nil {
			return Record{}, nil, fmt.Errorf("envelope: recv header datagram: %w", err)
		}
		h, derr := decodeDatagramHeader(buf)
		if derr != nil || h.Total != 0 || h.Flags != 0 {
			continue
		}
		r, _, err := DecodeRecordHeader(buf[datagramHeaderSize:])
		if err != nil {
			return Record{}, nil, fmt.Errorf("envelope: decode header: %w", err)
		}
		rec, prefix = r, h.IDPrefix
		break
	}

	reassembler := manager.Session(sessionID)
	var window []Chunk

	const pollInterval = 40 * time.Millisecond
	for !reassembler.Ready() {
		recvCtx, cancel := context.WithTimeout(ctx, pollInterval)
		buf, err := adapter.Recv(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return Record{}, nil, fmt.Errorf("envelope: recv chunk datagram: %w", ctx.Err())
			}
			if strategy == StrategyWindowedSelective {
				sendGapNACKs(ctx, adapter, prefix, uint16(reassembler.Stats().Total), reassembler, logger)
			}
			continue
		}

		h, derr := decodeDatagramHeader(buf)
		if derr != nil || h.IDPrefix != prefix || h.Flags&(datagramFlagACK|datagramFlagNACK) != 0 {
			continue
		}
		payload := append([]byte(nil), buf[datagramHeaderSize:]...)

		if h.Flags&datagramFlagParity != 0 {
			parityChunk := Chunk{GlobalSeq: uint32(h.Sequence) - 1, TotalChunks: uint32(h.Total), Payload: payload}
			if missing := findMissingInWindow(window, parityChunk); missing != nil {
				recovered := RecoverMissing(window, payload, len(payload))
				missing.Payload = recovered
				if int(parityChunk.TotalChunks) < ParityWindowSize {
					// A short window is the envelope's last one, so its end
					// gives the chunk count even if no data chunk carried it.
					missing.TotalChunks = parityChunk.GlobalSeq + parityChunk.TotalChunks
				}
				if err := reassembler.WriteChunk(*missing); err != nil {
					return Record{}, nil, fmt.Errorf("envelope: write recovered chunk: %w", err)
				}
				logger.Debug("recovered chunk via parity", "seq", missing.GlobalSeq)
			}
			window = nil
			continue
		}

		c := Chunk{GlobalSeq: uint32(h.Sequence) - 1, TotalChunks: uint32(h.Total), Payload: payload}
		if err := reassembler.WriteChunk(c); err != nil {
			return Record{}, nil, fmt.Errorf("envelope: write chunk: %w", err)
		}
		window = append(window, c)
		if len(window) > ParityWindowSize {
			window = window[len(window)-ParityWindowSize:]
		}
	}

	if strategy == StrategyWindowedSelective {
		completion := datagramHeader{Flags: datagramFlagACK, IDPrefix: prefix}
		if err := sendDatagramFrame(ctx, adapter, completion, nil); err != nil {
			logger.Debug("completion ack send failed", "error", err)
		}
	}

	compressed, err := reassembler.Finalize()
	if err != nil {
		return Record{}, nil, err
	}
	manager.Remove(sessionID)

	body, err := Decompress(rec.Compression, compressed)
	if err != nil {
		return Record{}, nil, err
	}
	return rec, body, nil
}

// sendGapNACKs asks reassembler's gap tracker for persistently missing
// chunks and NACKs each one back to the sender over adapter.
func sendGapNACKs(ctx context.Context, adapter radio.Adapter, prefix [8]byte, total uint16, reassembler *Reassembler, logger *slog.Logger) {
	for _, seq := range reassembler.Gaps() {
		h := datagramHeader{Flags: datagramFlagNACK, IDPrefix: prefix, Sequence: uint16(seq) + 1, Total: total}
		if err := sendDatagramFrame(ctx, adapter, h, nil); err != nil {
			logger.Debug("nack send failed", "seq", seq, "error", err)
			continue
		}
		reassembler.MarkNotified(seq)
	}
}
