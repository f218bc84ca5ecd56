package envelope

import "errors"

// Sentinel errors returned by the envelope layer. Use errors.Is to test.
var (
	// ErrChunkTooLarge is returned when a chunk header declares a length
	// exceeding MaxChunkPayload.
	ErrChunkTooLarge = errors.New("envelope: chunk payload exceeds maximum size")

	// ErrTruncatedChunk is returned when a buffer is shorter than its
	// declared chunk header + payload length.
	ErrTruncatedChunk = errors.New("envelope: truncated chunk")

	// ErrUnknownCompression is returned when a record's compression byte
	// does not match a registered codec.
	ErrUnknownCompression = errors.New("envelope: unknown compression codec")

	// ErrReassemblyExpired names an expired reassembly session. Finalize
	// does not return it, and no other function in this package does.
	ErrReassemblyExpired = errors.New("envelope: reassembly session expired")

	// ErrReassemblyIncomplete is returned by Finalize when chunks are
	// still missing.
	ErrReassemblyIncomplete = errors.New("envelope: reassembly incomplete, chunks missing")

	// ErrNoHandler is returned by the gateway dispatcher when no
	// CommandHandler is registered for a requested command name.
	ErrNoHandler = errors.New("envelope: no handler registered for command")

	// ErrBadRecordCRC is returned when a record header's checksum does
	// not match its contents.
	ErrBadRecordCRC = errors.New("envelope: record header crc mismatch")
)
