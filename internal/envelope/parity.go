package envelope

// ParityWindowSize is the number of data chunks covered by one XOR parity
// chunk under the parity-window reliability strategy.
const ParityWindowSize = 4

// ComputeParity XORs together the payloads of a window of data chunks,
// padding shorter payloads with zero bytes to the longest payload's
// length. The result can recover exactly one missing chunk in the window
// by XORing the parity against the remaining data chunks.
func ComputeParity(window []Chunk) []byte {
	maxLen := 0
	for _, c := range window {
		if len(c.Payload) > maxLen {
			maxLen = len(c.Payload)
		}
	}

	parity := make([]byte, maxLen)
	for _, c := range window {
		for i, b := range c.Payload {
			parity[i] ^= b
		}
	}
	return parity
}

// RecoverMissing reconstructs the payload of the single missing chunk of a
// window by XORing parity against present, which must contain every other
// chunk of the window. The result is truncated to missingLen (or to the
// parity length, if shorter). It does not detect whether more than one
// chunk is missing; in that case the returned bytes are not a valid chunk.
func RecoverMissing(present []Chunk, parity []byte, missingLen int) []byte {
	recovered := make([]byte, len(parity))
	copy(recovered, parity)

	for _, c := range present {
		for i, b := range c.Payload {
			if i < len(recovered) {
				recovered[i] ^= b
			}
		}
	}
	if missingLen > len(recovered) {
		missingLen = len(recovered)
	}
	return recovered[:missingLen]
}
