package envelope

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/meshbridge/internal/transport"
)

// Strategy selects how an envelope's chunks are paced and, for the two
// raw-datagram strategies, protected against real loss. StrategySimple and
// StrategyStaged assume an already-reliable writer (a transport.Stream)
// and only differ in pacing; StrategyWindowedSelective and
// StrategyParityWindow assume the opposite — an unreliable radio.Adapter
// with nothing underneath retransmitting for them — and carry their own
// loss recovery accordingly. See SendEnvelope (stream-ring strategies) and
// SendEnvelopeDatagram (raw-datagram strategies, datagram.go).
type Strategy int

const (
	// StrategySimple writes every chunk back to back, relying entirely on
	// the underlying stream's own ACK/retransmit loop. Cheapest, best for
	// small payloads.
	StrategySimple Strategy = iota

	// StrategyStaged writes chunks in bounded bursts with a pacing delay
	// between bursts, so a large envelope doesn't monopolize the link's
	// duty cycle and starve other streams sharing the multiplexer.
	StrategyStaged

	// StrategyWindowedSelective sends every chunk once directly over a
	// radio.Adapter, then retries only the chunks the receiver's gap
	// tracker actually NACKs (see SendEnvelopeDatagram). Selective-repeat
	// ARQ only makes sense where chunks can really go missing, so this
	// strategy has no stream-ring implementation.
	StrategyWindowedSelective

	// StrategyParityWindow groups chunks into ParityWindowSize windows
	// and appends an XOR parity chunk after each window, letting the
	// receiver recover exactly one lost chunk per window without a round
	// trip (see SendEnvelopeDatagram). Like StrategyWindowedSelective,
	// this only protects against real datagram loss, so it runs on a
	// radio.Adapter directly rather than a stream.
	StrategyParityWindow
)

const (
	stageSize  = 8
	stageDelay = 20 * time.Millisecond
)

// SendEnvelope writes rec's header followed by body, chunked and paced
// according to strategy, onto stream. strategy must be StrategySimple or
// StrategyStaged: the stream already guarantees delivery, so the two
// raw-datagram strategies (which exist to recover from real loss) belong
// on SendEnvelopeDatagram instead.
func SendEnvelope(ctx context.Context, stream *transport.Stream, rec Record, body []byte, strategy Strategy) error {
	header := EncodeRecordHeader(rec)
	if _, err := stream.Write(ctx, header); err != nil {
		return fmt.Errorf("envelope: write header: %w", err)
	}

	chunks := Split(body)

	switch strategy {
	case StrategyStaged:
		return sendStaged(ctx, stream, chunks)
	case StrategySimple:
		return sendSimple(ctx, stream, chunks)
	default:
		return fmt.Errorf("envelope: strategy %d has no stream-ring path, use SendEnvelopeDatagram", strategy)
	}
}

func writeChunk(ctx context.Context, stream *transport.Stream, c Chunk) error {
	buf, err := EncodeChunk(c)
	if err != nil {
		return err
	}
	_, err = stream.Write(ctx, buf)
	return err
}

func sendSimple(ctx context.Context, stream *transport.Stream, chunks []Chunk) error {
	for _, c := range chunks {
		if err := writeChunk(ctx, stream, c); err != nil {
			return fmt.Errorf("envelope: write chunk %d: %w", c.GlobalSeq, err)
		}
	}
	return nil
}

func sendStaged(ctx context.Context, stream *transport.Stream, chunks []Chunk) error {
	for i := 0; i < len(chunks); i += stageSize {
		end := i + stageSize
		if end > len(chunks) {
			end = len(chunks)
		}
		for _, c := range chunks[i:end] {
			if err := writeChunk(ctx, stream, c); err != nil {
				return fmt.Errorf("envelope: write chunk %d: %w", c.GlobalSeq, err)
			}
		}
		if end < len(chunks) {
			select {
			case <-time.After(stageDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// chunkStreamReader accumulates bytes read from a Stream and peels
// complete chunk headers/payloads off the front as they become available.
type chunkStreamReader struct {
	stream *transport.Stream
	buf    bytes.Buffer
	tmp    []byte
}

func newChunkStreamReader(stream *transport.Stream) *chunkStreamReader {
	return &chunkStreamReader{stream: stream, tmp: make([]byte, 32*1024)}
}

// ReadHeader reads and decodes the envelope record header from the front
// of the stream.
func (r *chunkStreamReader) ReadHeader(ctx context.Context) (Record, error) {
	for {
		if rec, n, err := DecodeRecordHeader(r.buf.Bytes()); err == nil {
			r.buf.Next(n)
			return rec, nil
		} else if err != ErrTruncatedChunk {
			return Record{}, err
		}
		if err := r.fill(ctx); err != nil {
			return Record{}, err
		}
	}
}

// NextChunk reads and decodes the next chunk from the stream.
func (r *chunkStreamReader) NextChunk(ctx context.Context) (Chunk, error) {
	for {
		if c, n, err := DecodeChunk(r.buf.Bytes()); err == nil {
			r.buf.Next(n)
			return c, nil
		} else if err != ErrTruncatedChunk {
			return Chunk{}, err
		}
		if err := r.fill(ctx); err != nil {
			return Chunk{}, err
		}
	}
}

func (r *chunkStreamReader) fill(ctx context.Context) error {
	n, err := r.stream.Read(ctx, r.tmp)
	if n > 0 {
		r.buf.Write(r.tmp[:n])
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("envelope: stream closed before envelope complete")
	}
	return nil
}

// ReceiveEnvelope reads one full envelope (header plus every chunk,
// including parity chunks which are consumed to recover any single
// missing data chunk per window) from stream into manager's reassembly
// session sessionID, returning the decompressed body once complete.
func ReceiveEnvelope(ctx context.Context, stream *transport.Stream, manager *ReassemblyManager, sessionID string, logger *slog.Logger) (Record, []byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := newChunkStreamReader(stream)

	rec, err := r.ReadHeader(ctx)
	if err != nil {
		return Record{}, nil, fmt.Errorf("envelope: read header: %w", err)
	}

	reassembler := manager.Session(sessionID)
	var window []Chunk

	for !reassembler.Ready() {
		c, err := r.NextChunk(ctx)
		if err != nil {
			return Record{}, nil, fmt.Errorf("envelope: read chunk: %w", err)
		}

		if c.HasFlag(ChunkFlagParity) {
			if missing := findMissingInWindow(window, c); missing != nil {
				recovered := RecoverMissing(window, c.Payload, len(c.Payload))
				missing.Payload = recovered
				reassembler.WriteChunk(*missing)
				logger.Debug("recovered chunk via parity", "seq", missing.GlobalSeq)
			}
			window = nil
			continue
		}

		if err := reassembler.WriteChunk(c); err != nil {
			return Record{}, nil, fmt.Errorf("envelope: write chunk: %w", err)
		}
		window = append(window, c)
		if len(window) > ParityWindowSize {
			window = window[len(window)-ParityWindowSize:]
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

// findMissingInWindow returns a pointer placeholder for the one chunk
// absent from window relative to parity's declared window size, or nil if
// the window is already complete (no recovery needed).
func findMissingInWindow(window []Chunk, parity Chunk) *Chunk {
	windowSize := int(parity.TotalChunks)
	if len(window) >= windowSize {
		return nil
	}
	base := parity.GlobalSeq
	seen := make(map[uint32]bool, len(window))
	for _, c := range window {
		seen[c.GlobalSeq] = true
	}
	for seq := base; seq < base+uint32(windowSize); seq++ {
		if !seen[seq] {
			return &Chunk{GlobalSeq: seq}
		}
	}
	return nil
}
