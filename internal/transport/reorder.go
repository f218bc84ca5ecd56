package transport

import (
	"sync"

	"github.com/nishisan-dev/meshbridge/internal/protocol"
)

// recvWindow reassembles the receiver side of a stream: it holds
// out-of-order frames until the gap in front of them closes, then releases
// payloads to the reader in sequence order. Gaps reports every sequence
// currently missing below the highest buffered one, with no time threshold,
// so the stream can emit selective NACKs.
type recvWindow struct {
	mu        sync.Mutex
	capacity  int
	next      uint32 // next in-sequence seq expected
	buffered  map[uint32][]byte
	delivered [][]byte // contiguous payloads ready to be read, in order
}

// newRecvWindow creates a receiver window expecting initialSeq next,
// buffering up to capacity out-of-order frames ahead of that point.
func newRecvWindow(capacity int, initialSeq uint32) *recvWindow {
	return &recvWindow{
		capacity: capacity,
		next:     initialSeq,
		buffered: make(map[uint32][]byte),
	}
}

// Accept records an incoming data frame. It returns (duplicate=true) if
// seq has already been delivered or buffered, and delivers any payloads
// that become contiguous as a result.
func (w *recvWindow) Accept(f protocol.Frame) (duplicate bool, delivered [][]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seqLess(f.Seq, w.next) {
		return true, nil
	}
	if _, ok := w.buffered[f.Seq]; ok {
		return true, nil
	}
	if seqDiff(f.Seq, w.next) >= int32(w.capacity) {
		// Beyond our buffering capacity; drop silently, sender will
		// retransmit once the window slides.
		return false, nil
	}

	w.buffered[f.Seq] = f.Payload

	var out [][]byte
	for {
		payload, ok := w.buffered[w.next]
		if !ok {
			break
		}
		out = append(out, payload)
		delete(w.buffered, w.next)
		w.next++
	}
	return false, out
}

// Ack returns the cumulative ACK value: the next sequence number the
// receiver expects, meaning every seq before it has been delivered.
func (w *recvWindow) Ack() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Gaps returns the sequence numbers strictly between the cumulative ACK
// point and the highest buffered sequence number that have not yet been
// received, suitable for selective NACK.
func (w *recvWindow) Gaps() []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffered) == 0 {
		return nil
	}
	highest := w.next
	for seq := range w.buffered {
		if seqLess(highest, seq) {
			highest = seq
		}
	}

	var gaps []uint32
	for seq := w.next; seqLess(seq, highest); seq++ {
		if _, ok := w.buffered[seq]; !ok {
			gaps = append(gaps, seq)
		}
	}
	return gaps
}
