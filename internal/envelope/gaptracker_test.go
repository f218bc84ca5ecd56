package envelope

import (
	"log/slog"
	"testing"
	"time"
)

func testGapLogger() *slog.Logger {
	return slog.Default()
}

func TestGapTracker_DetectsGapAfterTimeout(t *testing.T) {
	gt := newGapTracker("test-session", 50*time.Millisecond, 5, testGapLogger())

	gt.RecordChunk(0)
	gt.RecordChunk(1)
	gt.RecordChunk(3) // gap at 2

	gaps := gt.CheckGaps()
	if len(gaps) != 0 {
		t.Fatalf("expected 0 gaps before timeout, got %d: %v", len(gaps), gaps)
	}

	time.Sleep(60 * time.Millisecond)

	gaps = gt.CheckGaps()
	if len(gaps) != 1 || gaps[0] != 2 {
		t.Fatalf("expected gap [2], got %v", gaps)
	}
}

func TestGapTracker_TransientGapResolved(t *testing.T) {
	gt := newGapTracker("test-session", 100*time.Millisecond, 5, testGapLogger())

	gt.RecordChunk(0)
	gt.RecordChunk(1)
	gt.RecordChunk(3) // gap at 2
	gt.RecordChunk(2) // arrives before timeout: transient, not persistent

	time.Sleep(110 * time.Millisecond)

	gaps := gt.CheckGaps()
	if len(gaps) != 0 {
		t.Fatalf("expected 0 gaps after resolution, got %d: %v", len(gaps), gaps)
	}
}

func TestGapTracker_MultipleGaps(t *testing.T) {
	gt := newGapTracker("test-session", 50*time.Millisecond, 10, testGapLogger())

	gt.RecordChunk(0)
	gt.RecordChunk(5) // gaps at 1,2,3,4

	time.Sleep(60 * time.Millisecond)

	gaps := gt.CheckGaps()
	if len(gaps) != 4 {
		t.Fatalf("expected 4 gaps, got %d: %v", len(gaps), gaps)
	}

	gapSet := make(map[uint32]bool)
	for _, g := range gaps {
		gapSet[g] = true
	}
	for seq := uint32(1); seq <= 4; seq++ {
		if !gapSet[seq] {
			t.Errorf("expected gap seq %d to be reported", seq)
		}
	}
}

func TestGapTracker_MaxNACKsPerCycle(t *testing.T) {
	gt := newGapTracker("test-session", 50*time.Millisecond, 3, testGapLogger())

	gt.RecordChunk(0)
	gt.RecordChunk(11) // 10 gaps

	time.Sleep(60 * time.Millisecond)

	gaps := gt.CheckGaps()
	if len(gaps) != 3 {
		t.Fatalf("expected 3 gaps (maxNACKsPerCycle), got %d: %v", len(gaps), gaps)
	}
}

func TestGapTracker_NoDuplicateNACKs(t *testing.T) {
	gt := newGapTracker("test-session", 50*time.Millisecond, 5, testGapLogger())

	gt.RecordChunk(0)
	gt.RecordChunk(3) // gaps 1, 2

	time.Sleep(60 * time.Millisecond)

	gaps1 := gt.CheckGaps()
	if len(gaps1) != 2 {
		t.Fatalf("expected 2 gaps on first check, got %d", len(gaps1))
	}
	for _, seq := range gaps1 {
		gt.MarkNotified(seq)
	}

	gaps2 := gt.CheckGaps()
	if len(gaps2) != 0 {
		t.Fatalf("expected 0 gaps on second check (already notified), got %d: %v", len(gaps2), gaps2)
	}
}

func TestGapTracker_ResolveGap(t *testing.T) {
	gt := newGapTracker("test-session", 50*time.Millisecond, 5, testGapLogger())

	gt.RecordChunk(0)
	gt.RecordChunk(3) // gaps 1, 2

	time.Sleep(60 * time.Millisecond)
	gt.CheckGaps()

	gt.ResolveGap(1)

	pending := gt.PendingGaps()
	if pending != 1 {
		t.Fatalf("expected 1 pending gap after resolving 1, got %d", pending)
	}
}

func TestGapTracker_PendingGaps(t *testing.T) {
	gt := newGapTracker("test-session", 50*time.Millisecond, 5, testGapLogger())

	gt.RecordChunk(0)
	gt.RecordChunk(5) // gaps 1, 2, 3, 4

	if gt.PendingGaps() != 4 {
		t.Fatalf("expected 4 pending gaps, got %d", gt.PendingGaps())
	}

	gt.RecordChunk(2) // resolves gap 2

	if gt.PendingGaps() != 3 {
		t.Fatalf("expected 3 pending gaps after receiving seq 2, got %d", gt.PendingGaps())
	}
}

func TestGapTracker_SequentialChunks_NoGaps(t *testing.T) {
	gt := newGapTracker("test-session", 50*time.Millisecond, 5, testGapLogger())

	for i := uint32(0); i < 100; i++ {
		gt.RecordChunk(i)
	}

	time.Sleep(60 * time.Millisecond)

	gaps := gt.CheckGaps()
	if len(gaps) != 0 {
		t.Fatalf("expected 0 gaps for sequential chunks, got %d: %v", len(gaps), gaps)
	}

	if gt.PendingGaps() != 0 {
		t.Fatalf("expected 0 pending gaps, got %d", gt.PendingGaps())
	}

	if gt.MaxSeenSeq() != 99 {
		t.Fatalf("expected maxSeenSeq=99, got %d", gt.MaxSeenSeq())
	}
}
