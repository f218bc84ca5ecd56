package envelope

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestReassemblerInOrderAndOutOfOrder(t *testing.T) {
	body := bytes.Repeat([]byte("reassembly test data "), 10000)
	chunks := Split(body)

	r := NewReassembler("session-1", time.Minute, slog.Default())

	// Write in reverse order.
	for i := len(chunks) - 1; i >= 0; i-- {
		if err := r.WriteChunk(chunks[i]); err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
	}

	if !r.Ready() {
		t.Fatal("expected reassembler to be ready once all chunks arrive")
	}

	got, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("Finalize output does not match original body")
	}
}

func TestReassemblerIncomplete(t *testing.T) {
	body := bytes.Repeat([]byte("x"), MaxChunkPayload*2+1)
	chunks := Split(body)

	r := NewReassembler("session-2", time.Minute, slog.Default())
	for _, c := range chunks[:len(chunks)-1] {
		r.WriteChunk(c)
	}

	if r.Ready() {
		t.Fatal("should not be ready with a missing chunk")
	}
	_, err := r.Finalize()
	if !errors.Is(err, ErrReassemblyIncomplete) {
		t.Fatalf("got %v, want ErrReassemblyIncomplete", err)
	}
}

func TestReassemblerDuplicateChunk(t *testing.T) {
	r := NewReassembler("session-3", time.Minute, slog.Default())
	c := Chunk{GlobalSeq: 0, TotalChunks: 1, Flags: ChunkFlagFinal, Payload: []byte("abc")}

	r.WriteChunk(c)
	r.WriteChunk(c)

	stats := r.Stats()
	if stats.Duplicates != 1 {
		t.Fatalf("Duplicates = %d, want 1", stats.Duplicates)
	}
	if stats.Received != 1 {
		t.Fatalf("Received = %d, want 1", stats.Received)
	}
}

func TestReassemblyManagerSweepEvictsExpired(t *testing.T) {
	m := NewReassemblyManager(20*time.Millisecond, slog.Default())
	r := m.Session("stale")
	r.WriteChunk(Chunk{GlobalSeq: 0, TotalChunks: 2, Payload: []byte("a")})

	time.Sleep(30 * time.Millisecond)

	removed := m.Sweep()
	if removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}
}

func TestReassemblyManagerSessionReuse(t *testing.T) {
	m := NewReassemblyManager(time.Minute, slog.Default())
	a := m.Session("x")
	b := m.Session("x")
	if a != b {
		t.Fatal("Session should return the same Reassembler for the same ID")
	}
}
