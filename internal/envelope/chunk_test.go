package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func TestChunkEncodeDecodeRoundTrip(t *testing.T) {
	c := Chunk{GlobalSeq: 7, TotalChunks: 12, Flags: ChunkFlagFinal, Payload: []byte("payload bytes")}
	buf, err := EncodeChunk(c)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}

	got, n, err := DecodeChunk(buf)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if got.GlobalSeq != c.GlobalSeq || got.TotalChunks != c.TotalChunks || got.Flags != c.Flags {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Payload, c.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Payload, c.Payload)
	}
}

func TestChunkDecodeTruncated(t *testing.T) {
	_, _, err := DecodeChunk(make([]byte, ChunkHeaderSize-1))
	if !errors.Is(err, ErrTruncatedChunk) {
		t.Fatalf("got %v, want ErrTruncatedChunk", err)
	}

	c := Chunk{Payload: []byte("abcdef")}
	buf, _ := EncodeChunk(c)
	_, _, err = DecodeChunk(buf[:len(buf)-1])
	if !errors.Is(err, ErrTruncatedChunk) {
		t.Fatalf("got %v, want ErrTruncatedChunk", err)
	}
}

func TestChunkEncodeTooLarge(t *testing.T) {
	_, err := EncodeChunk(Chunk{Payload: make([]byte, MaxChunkPayload+1)})
	if !errors.Is(err, ErrChunkTooLarge) {
		t.Fatalf("got %v, want ErrChunkTooLarge", err)
	}
}
