package transport

import (
	"sync"

	"github.com/nishisan-dev/meshbridge/internal/protocol"
)

// pendingFrame is an unacknowledged frame held in the sender window,
// awaiting ACK or retransmission. Its retransmit timer is tracked by the
// shared timerQueue under the (streamID, seq) key, not here.
type pendingFrame struct {
	frame protocol.Frame
	tries int
}

// sendWindow tracks in-flight frames for one stream's sender side, bounded
// to at most capacity outstanding (unacked) frames at a time.
type sendWindow struct {
	mu       sync.Mutex
	capacity int
	base     uint32 // oldest unacked sequence number
	next     uint32 // next sequence number to assign
	pending  map[uint32]*pendingFrame
	notFull  chan struct{} // closed+replaced each time a slot frees up
}

// newSendWindow creates a sender window starting at the given initial
// sequence number, accepting up to capacity outstanding frames.
func newSendWindow(capacity int, initialSeq uint32) *sendWindow {
	return &sendWindow{
		capacity: capacity,
		base:     initialSeq,
		next:     initialSeq,
		pending:  make(map[uint32]*pendingFrame),
		notFull:  make(chan struct{}),
	}
}

// Full reports whether the window has no free slots.
func (w *sendWindow) Full() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.full()
}

func (w *sendWindow) full() bool {
	return len(w.pending) >= w.capacity
}

// WaitForSlot blocks until the window has a free slot or cancel is closed.
// cancel lets a stream unblock writers on Close/reset.
func (w *sendWindow) WaitForSlot(cancel <-chan struct{}) bool {
	for {
		w.mu.Lock()
		if !w.full() {
			w.mu.Unlock()
			return true
		}
		ch := w.notFull
		w.mu.Unlock()

		select {
		case <-ch:
		case <-cancel:
			return false
		}
	}
}

// Insert assigns the next sequence number to f, records it as pending, and
// returns the assigned sequence. Caller must have confirmed a free slot
// exists (e.g. via WaitForSlot) immediately before calling.
func (w *sendWindow) Insert(f protocol.Frame) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.next
	f.Seq = seq
	w.pending[seq] = &pendingFrame{frame: f}
	w.next++
	return seq
}

// Ack removes all pending frames with sequence < ack (ack carries
// next-expected semantics: the receiver has delivered everything before
// it) and advances base accordingly. It returns the sequence numbers that
// were acknowledged, so callers can cancel their retransmit timers.
func (w *sendWindow) Ack(ack uint32) []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var cleared []uint32
	for seq := range w.pending {
		if seqLess(seq, ack) {
			cleared = append(cleared, seq)
			delete(w.pending, seq)
		}
	}
	if seqLess(w.base, ack) {
		w.base = ack
	}
	if len(cleared) > 0 {
		w.wake()
	}
	return cleared
}

// NackRetransmit returns the pending frame for seq if it is still
// outstanding, incrementing its retry count, or (nil, false) if seq has
// already been acknowledged.
func (w *sendWindow) NackRetransmit(seq uint32) (protocol.Frame, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pf, ok := w.pending[seq]
	if !ok {
		return protocol.Frame{}, 0, false
	}
	pf.tries++
	return pf.frame, pf.tries, true
}

// Tries returns the current retry count for seq, or 0 if seq is not
// pending.
func (w *sendWindow) Tries(seq uint32) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pf, ok := w.pending[seq]; ok {
		return pf.tries
	}
	return 0
}

// Remove drops seq from the window unconditionally (used when a frame's
// retry budget is exhausted and the stream is being reset).
func (w *sendWindow) Remove(seq uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, seq)
	w.wake()
}

// PendingSeqs returns the sequence numbers currently outstanding, in no
// particular order.
func (w *sendWindow) PendingSeqs() []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	seqs := make([]uint32, 0, len(w.pending))
	for seq := range w.pending {
		seqs = append(seqs, seq)
	}
	return seqs
}

// wake releases any writers blocked in WaitForSlot. Caller must hold mu.
func (w *sendWindow) wake() {
	close(w.notFull)
	w.notFull = make(chan struct{})
}
