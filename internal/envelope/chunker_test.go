package envelope

import (
	"bytes"
	"testing"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("x"), MaxChunkPayload*3+17)
	chunks := Split(body)

	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	for i, c := range chunks {
		if int(c.GlobalSeq) != i {
			t.Fatalf("chunk %d: GlobalSeq = %d", i, c.GlobalSeq)
		}
		if int(c.TotalChunks) != len(chunks) {
			t.Fatalf("chunk %d: TotalChunks = %d, want %d", i, c.TotalChunks, len(chunks))
		}
	}
	if !chunks[len(chunks)-1].HasFlag(ChunkFlagFinal) {
		t.Fatal("last chunk should carry ChunkFlagFinal")
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.HasFlag(ChunkFlagFinal) {
			t.Fatal("non-final chunk should not carry ChunkFlagFinal")
		}
	}

	if got := Join(chunks); !bytes.Equal(got, body) {
		t.Fatal("Join(Split(body)) != body")
	}
}

func TestSplitEmptyBody(t *testing.T) {
	chunks := Split(nil)
	if len(chunks) != 1 || chunks[0].Length != 0 || !chunks[0].HasFlag(ChunkFlagFinal) {
		t.Fatalf("Split(nil) = %+v, want single empty final chunk", chunks)
	}
}
