package envelope

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// gapTracker detects missing chunks in an envelope's reassembly window
// proactively. It keeps a set of globalSeqs already received and flags a
// persistent gap when seq N+2 arrives but N+1 has not — and that absence
// outlives the configured timeout.
//
// Transient gaps (chunks that arrive out of order within a few hundred
// milliseconds, which is routine given round-robin scheduling across
// streams) are tolerated. Only gaps that persist past gapTimeout are
// surfaced for NACK.
type gapTracker struct {
	sessionID string

	received map[uint32]bool

	maxSeenSeq uint32
	hasSeenSeq bool // disambiguates the zero value of maxSeenSeq

	firstSeen    map[uint32]time.Time
	notifiedGaps map[uint32]bool

	gapTimeout       time.Duration
	maxNACKsPerCycle int

	mu     sync.Mutex
	logger *slog.Logger
}

// newGapTracker creates a gapTracker for one envelope reassembly session.
func newGapTracker(sessionID string, gapTimeout time.Duration, maxNACKsPerCycle int, logger *slog.Logger) *gapTracker {
	if maxNACKsPerCycle <= 0 {
		maxNACKsPerCycle = 5
	}
	return &gapTracker{
		sessionID:        sessionID,
		received:         make(map[uint32]bool),
		firstSeen:        make(map[uint32]time.Time),
		notifiedGaps:     make(map[uint32]bool),
		gapTimeout:       gapTimeout,
		maxNACKsPerCycle: maxNACKsPerCycle,
		logger:           logger,
	}
}

// RecordChunk registers that globalSeq was received successfully. If it
// creates a gap (e.g. seq 5 arrives but 3 and 4 have not) the missing
// seqs are timestamped for later gap detection.
func (gt *gapTracker) RecordChunk(globalSeq uint32) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	gt.received[globalSeq] = true
	delete(gt.firstSeen, globalSeq)
	delete(gt.notifiedGaps, globalSeq)

	now := time.Now()

	if !gt.hasSeenSeq {
		if globalSeq > 0 {
			for seq := uint32(0); seq < globalSeq; seq++ {
				if !gt.received[seq] {
					gt.firstSeen[seq] = now
				}
			}
		}
		gt.maxSeenSeq = globalSeq
		gt.hasSeenSeq = true
		return
	}

	if globalSeq > gt.maxSeenSeq {
		for seq := gt.maxSeenSeq + 1; seq < globalSeq; seq++ {
			if !gt.received[seq] {
				if _, exists := gt.firstSeen[seq]; !exists {
					gt.firstSeen[seq] = now
				}
			}
		}
		gt.maxSeenSeq = globalSeq
	}
}

// CheckGaps returns up to maxNACKsPerCycle missing globalSeqs that have
// persisted past gapTimeout and have not yet been notified. Marking a gap
// as notified only happens once the caller has actually sent the NACK.
func (gt *gapTracker) CheckGaps() []uint32 {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	now := time.Now()
	var gaps []uint32
	keys := make([]uint32, 0, len(gt.firstSeen))

	for seq := range gt.firstSeen {
		keys = append(keys, seq)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, seq := range keys {
		detected := gt.firstSeen[seq]
		if gt.notifiedGaps[seq] {
			continue
		}
		if gt.received[seq] {
			delete(gt.firstSeen, seq)
			delete(gt.notifiedGaps, seq)
			continue
		}
		if now.Sub(detected) < gt.gapTimeout {
			continue
		}
		gaps = append(gaps, seq)
		if len(gaps) >= gt.maxNACKsPerCycle {
			break
		}
	}

	return gaps
}

// MarkNotified records that a NACK for globalSeq was sent successfully.
func (gt *gapTracker) MarkNotified(globalSeq uint32) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	if gt.received[globalSeq] {
		delete(gt.firstSeen, globalSeq)
		delete(gt.notifiedGaps, globalSeq)
		return
	}
	if _, exists := gt.firstSeen[globalSeq]; exists {
		gt.notifiedGaps[globalSeq] = true
	}
}

// RearmGap restarts the wait window for a gap after a retransmit request
// has gone out. If the retransmission is also lost, a fresh NACK can be
// emitted after another gapTimeout.
func (gt *gapTracker) RearmGap(globalSeq uint32) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	if gt.received[globalSeq] {
		delete(gt.firstSeen, globalSeq)
		delete(gt.notifiedGaps, globalSeq)
		return
	}

	gt.firstSeen[globalSeq] = time.Now()
	delete(gt.notifiedGaps, globalSeq)
}

// ResolveGap marks a gap resolved. Only use this once the chunk has
// actually been received, not merely once a retransmit was requested.
func (gt *gapTracker) ResolveGap(globalSeq uint32) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	gt.received[globalSeq] = true
	delete(gt.firstSeen, globalSeq)
	delete(gt.notifiedGaps, globalSeq)
}

// PendingGaps returns the number of unresolved gaps (detected and still
// pending).
func (gt *gapTracker) PendingGaps() int {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	count := 0
	for seq := range gt.firstSeen {
		if !gt.received[seq] {
			count++
		}
	}
	return count
}

// MaxSeenSeq returns the highest globalSeq seen so far.
func (gt *gapTracker) MaxSeenSeq() uint32 {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	return gt.maxSeenSeq
}
