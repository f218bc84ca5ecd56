package envelope

import "encoding/binary"

// ChunkHeaderSize is the size in bytes of a chunk header, carried ahead of
// each chunk's payload inside an envelope record.
//
//	offset size field
//	  0    4   global_seq    u32 LE
//	  4    4   total_chunks  u32 LE
//	  8    4   length        u32 LE
//	 12    4   flags         u32 LE
const ChunkHeaderSize = 16

// MaxChunkPayload bounds a single chunk's payload so that, combined with
// the chunk header, it still fits inside one stream write under
// protocol.MaxPayloadSize after accounting for envelope overhead.
const MaxChunkPayload = 60 * 1024

// Chunk flag bits.
const (
	ChunkFlagParity uint32 = 0x01 // payload is XOR parity, not data
	ChunkFlagFinal  uint32 = 0x02 // last data chunk of the envelope
)

// Chunk is one fragment of a larger envelope payload, split so it fits
// within a single reliable stream write.
type Chunk struct {
	GlobalSeq   uint32
	TotalChunks uint32
	Length      uint32
	Flags       uint32
	Payload     []byte
}

// HasFlag reports whether c carries the given flag bit.
func (c Chunk) HasFlag(flag uint32) bool {
	return c.Flags&flag != 0
}

// EncodeChunk serializes c as header followed by payload.
func EncodeChunk(c Chunk) ([]byte, error) {
	if len(c.Payload) > MaxChunkPayload {
		return nil, ErrChunkTooLarge
	}
	buf := make([]byte, ChunkHeaderSize+len(c.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], c.GlobalSeq)
	binary.LittleEndian.PutUint32(buf[4:8], c.TotalChunks)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(c.Payload)))
	binary.LittleEndian.PutUint32(buf[12:16], c.Flags)
	copy(buf[ChunkHeaderSize:], c.Payload)
	return buf, nil
}

// DecodeChunk parses a single chunk from the front of buf, returning the
// chunk and the number of bytes consumed.
func DecodeChunk(buf []byte) (Chunk, int, error) {
	if len(buf) < ChunkHeaderSize {
		return Chunk{}, 0, ErrTruncatedChunk
	}
	length := binary.LittleEndian.Uint32(buf[8:12])
	total := ChunkHeaderSize + int(length)
	if len(buf) < total {
		return Chunk{}, 0, ErrTruncatedChunk
	}
	if length > MaxChunkPayload {
		return Chunk{}, 0, ErrChunkTooLarge
	}

	payload := make([]byte, length)
	copy(payload, buf[ChunkHeaderSize:total])

	c := Chunk{
		GlobalSeq:   binary.LittleEndian.Uint32(buf[0:4]),
		TotalChunks: binary.LittleEndian.Uint32(buf[4:8]),
		Length:      length,
		Flags:       binary.LittleEndian.Uint32(buf[12:16]),
		Payload:     payload,
	}
	return c, total, nil
}
