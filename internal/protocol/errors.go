package protocol

import "errors"

// Sentinel errors returned by Decode and Encode. Callers should use
// errors.Is to test for a specific kind rather than comparing strings.
var (
	// ErrTooShort is returned when buf does not contain enough bytes to
	// hold even the fixed header.
	ErrTooShort = errors.New("protocol: frame too short")

	// ErrBadLength is returned when the header's declared payload_len
	// would run past the end of buf.
	ErrBadLength = errors.New("protocol: declared payload length exceeds buffer")

	// ErrBadCRC is returned when the trailing CRC32 does not match the
	// checksum computed over the header and payload.
	ErrBadCRC = errors.New("protocol: crc mismatch")

	// ErrPayloadTooLarge is returned by Encode when the payload exceeds
	// MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum size")
)
