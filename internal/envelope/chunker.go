package envelope

// Split divides body into a sequence of chunks no larger than
// MaxChunkPayload each, suitable for writing one per stream call. The
// final chunk carries ChunkFlagFinal.
func Split(body []byte) []Chunk {
	if len(body) == 0 {
		return []Chunk{{GlobalSeq: 0, TotalChunks: 1, Length: 0, Flags: ChunkFlagFinal}}
	}

	total := uint32((len(body) + MaxChunkPayload - 1) / MaxChunkPayload)
	chunks := make([]Chunk, 0, total)

	for seq := uint32(0); int(seq)*MaxChunkPayload < len(body); seq++ {
		start := int(seq) * MaxChunkPayload
		end := start + MaxChunkPayload
		if end > len(body) {
			end = len(body)
		}

		var flags uint32
		if seq == total-1 {
			flags = ChunkFlagFinal
		}
		chunks = append(chunks, Chunk{
			GlobalSeq:   seq,
			TotalChunks: total,
			Length:      uint32(end - start),
			Flags:       flags,
			Payload:     body[start:end],
		})
	}
	return chunks
}

// Join reassembles chunks, previously ordered by GlobalSeq, back into a
// single contiguous payload.
func Join(chunks []Chunk) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c.Payload)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Payload...)
	}
	return out
}
