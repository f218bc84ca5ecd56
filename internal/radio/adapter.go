// Package radio defines the narrow contract the transport layer needs from
// whatever carries datagrams over the physical mesh link. The actual LoRa
// radio driver and Meshtastic integration are external collaborators, out
// of scope for this module; only the interface and an in-memory simulated
// adapter for testing live here.
package radio

import (
	"context"
	"errors"
)

// ErrBusy is returned by Send when the underlying link is momentarily
// occupied (e.g. a half-duplex radio already mid-transmission). It is a
// transient condition, distinct from Close/context errors: a caller
// should back off briefly and retry rather than treat it as fatal.
var ErrBusy = errors.New("radio: adapter busy")

// Adapter is the boundary between the transport multiplexer and a
// datagram-oriented mesh link. The transport layer, not the adapter, is
// responsible for never emitting a datagram larger than one radio frame
// can carry — every Send call receives exactly one already-chunked,
// already-encoded frame (see transport.Config.ChunkPayloadSize); an
// Adapter implementation must never fragment it further.
type Adapter interface {
	// Send transmits a single datagram. It may block under link
	// congestion; callers pass a context to bound that wait. It returns
	// ErrBusy if the link cannot accept a transmission right now.
	Send(ctx context.Context, datagram []byte) error

	// Recv blocks until the next inbound datagram arrives, ctx is done,
	// or the adapter is closed.
	Recv(ctx context.Context) ([]byte, error)

	// Close releases the adapter's resources. Recv and Send must return
	// promptly with an error after Close.
	Close() error
}
