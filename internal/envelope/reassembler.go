package envelope

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ReassemblerStats is a snapshot of one session's reassembly progress.
type ReassemblerStats struct {
	Received    int
	Total       int
	BytesSoFar  int64
	Duplicates  int64
	PendingGaps int
}

// Reassembler holds the in-memory state for reconstructing one envelope
// body from its constituent chunks, tolerating out-of-order and duplicate
// delivery. It has no disk-spill path: every chunk payload of an envelope
// is held in memory until Finalize, and neither Reassembler nor
// ReassemblyManager caps the total envelope size.
type Reassembler struct {
	sessionID string
	total     uint32
	hasTotal  bool

	logger *slog.Logger
	gaps   *gapTracker

	mu       sync.Mutex
	chunks   map[uint32]Chunk
	createdAt time.Time
	lastSeen  time.Time
	ttl       time.Duration

	receivedCount atomic.Int64
	bytesSoFar    atomic.Int64
	duplicates    atomic.Int64
}

// NewReassembler creates a reassembly session identified by sessionID,
// evictable after ttl of inactivity.
func NewReassembler(sessionID string, ttl time.Duration, logger *slog.Logger) *Reassembler {
	now := time.Now()
	return &Reassembler{
		sessionID: sessionID,
		logger:    logger,
		gaps:      newGapTracker(sessionID, ttl/2, 8, logger),
		chunks:    make(map[uint32]Chunk),
		createdAt: now,
		lastSeen:  now,
		ttl:       ttl,
	}
}

// WriteChunk records an inbound chunk. Duplicate chunks (same GlobalSeq
// already held) are counted but otherwise ignored.
func (r *Reassembler) WriteChunk(c Chunk) error {
	if len(c.Payload) > MaxChunkPayload {
		return ErrChunkTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastSeen = time.Now()
	if !r.hasTotal && c.TotalChunks > 0 {
		r.total = c.TotalChunks
		r.hasTotal = true
	}

	if _, dup := r.chunks[c.GlobalSeq]; dup {
		r.duplicates.Add(1)
		return nil
	}

	r.chunks[c.GlobalSeq] = c
	r.receivedCount.Add(1)
	r.bytesSoFar.Add(int64(len(c.Payload)))
	r.gaps.RecordChunk(c.GlobalSeq)
	return nil
}

// Ready reports whether every chunk up to the declared total has arrived.
func (r *Reassembler) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasTotal && len(r.chunks) >= int(r.total)
}

// Gaps returns persistent missing-chunk sequence numbers suitable for
// selective NACK, per the gap detection policy in gaptracker.go.
func (r *Reassembler) Gaps() []uint32 {
	return r.gaps.CheckGaps()
}

// MarkNotified records that a NACK for seq has been sent.
func (r *Reassembler) MarkNotified(seq uint32) {
	r.gaps.MarkNotified(seq)
}

// Expired reports whether the session has been idle longer than its TTL
// as of now.
func (r *Reassembler) Expired(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.lastSeen) > r.ttl
}

// Finalize joins all received chunks in sequence order into a single
// payload. It fails with ErrReassemblyIncomplete if chunks are still
// missing.
func (r *Reassembler) Finalize() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasTotal || len(r.chunks) < int(r.total) {
		return nil, ErrReassemblyIncomplete
	}

	ordered := make([]Chunk, r.total)
	for seq, c := range r.chunks {
		if seq >= r.total {
			return nil, fmt.Errorf("envelope: chunk seq %d exceeds declared total %d", seq, r.total)
		}
		ordered[seq] = c
	}
	return Join(ordered), nil
}

// Stats returns a point-in-time snapshot of this session's progress.
func (r *Reassembler) Stats() ReassemblerStats {
	r.mu.Lock()
	total := int(r.total)
	r.mu.Unlock()

	return ReassemblerStats{
		Received:    int(r.receivedCount.Load()),
		Total:       total,
		BytesSoFar:  r.bytesSoFar.Load(),
		Duplicates:  r.duplicates.Load(),
		PendingGaps: r.gaps.PendingGaps(),
	}
}

// ReassemblyManager owns concurrent Reassembler sessions keyed by session
// ID and evicts sessions that outlive their TTL, so a peer that vanishes
// mid-transfer cannot leak memory indefinitely.
type ReassemblyManager struct {
	logger  *slog.Logger
	ttl     time.Duration
	mu      sync.Mutex
	active  map[string]*Reassembler
	evicted atomic.Int64
}

// NewReassemblyManager creates a manager applying ttl to every session it
// creates.
func NewReassemblyManager(ttl time.Duration, logger *slog.Logger) *ReassemblyManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReassemblyManager{
		logger: logger,
		ttl:    ttl,
		active: make(map[string]*Reassembler),
	}
}

// Session returns the Reassembler for sessionID, creating one if absent.
func (m *ReassemblyManager) Session(sessionID string) *Reassembler {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.active[sessionID]; ok {
		return r
	}
	r := NewReassembler(sessionID, m.ttl, m.logger)
	m.active[sessionID] = r
	return r
}

// Remove drops sessionID from the manager, typically after Finalize
// succeeds.
func (m *ReassemblyManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
}

// Sweep evicts sessions idle past their TTL and returns how many were
// removed. Intended to run periodically from the housekeeping scheduler.
func (m *ReassemblyManager) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, r := range m.active {
		if r.Expired(now) {
			delete(m.active, id)
			removed++
		}
	}
	if removed > 0 {
		m.evicted.Add(int64(removed))
		m.logger.Warn("reassembly sessions evicted after ttl", "count", removed)
	}
	return removed
}

// ActiveCount returns the number of sessions currently tracked.
func (m *ReassemblyManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
