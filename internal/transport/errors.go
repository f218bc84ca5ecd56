package transport

import "errors"

// Sentinel errors surfaced by stream and multiplexer operations. Callers
// should use errors.Is rather than comparing strings.
var (
	// ErrStreamClosed is returned by Read and Write on a stream that has
	// already been closed locally, and by Write when the stream ends while
	// it waits for a window slot. Close on a closed stream returns nil.
	ErrStreamClosed = errors.New("transport: stream closed")

	// ErrStreamReset is returned when the peer sent RST for the stream.
	ErrStreamReset = errors.New("transport: stream reset by peer")

	// ErrDeadlineExceeded is not returned by any function in this package;
	// Stream operations report an expired context with ctx.Err().
	ErrDeadlineExceeded = errors.New("transport: deadline exceeded")

	// ErrWindowFull is not returned by any function in this package: Write
	// blocks until the send window has a free slot or the stream closes.
	ErrWindowFull = errors.New("transport: send window full")

	// ErrMultiplexerClosed is returned by Multiplexer operations performed
	// after Close.
	ErrMultiplexerClosed = errors.New("transport: multiplexer closed")

	// ErrStreamIDInUse is returned by Multiplexer.Open when the requested
	// stream ID already has an active stream.
	ErrStreamIDInUse = errors.New("transport: stream id already in use")

	// ErrUnknownStream is not returned by any function in this package; the
	// multiplexer handles frames for untracked stream IDs internally.
	ErrUnknownStream = errors.New("transport: unknown stream id")

	// ErrBackpressure is not returned by any function in this package; when
	// the outbound rate limiter cannot admit a frame, the limiter's own
	// error is returned.
	ErrBackpressure = errors.New("transport: backpressure limit exceeded")
)
