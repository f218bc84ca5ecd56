package radio

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrClosed is returned by Send/Recv on a SimulatedAdapter after Close.
var ErrClosed = errors.New("radio: simulated adapter closed")

// SimulatedLink is a shared, lossy, reorder-prone medium connecting two or
// more SimulatedAdapter endpoints, used to exercise the transport layer's
// reliability properties without a physical radio.
type SimulatedLink struct {
	mu          sync.Mutex
	rng         *rand.Rand
	dropRate    float64
	dupRate     float64
	maxDelay    time.Duration
	reorder     bool
	endpoints   map[string]*SimulatedAdapter
	maxInFlight int
	busyWindow  time.Duration
	inFlight    int
}

// LinkParams configures the failure characteristics a SimulatedLink
// injects between endpoints.
type LinkParams struct {
	DropRate      float64       // probability a datagram is silently dropped
	DuplicateRate float64       // probability a datagram is delivered twice
	MaxDelay      time.Duration // upper bound on injected delivery jitter
	Reorder       bool          // not consulted: any MaxDelay > 0 may reorder datagrams
	Seed          int64

	// MaxInFlight models a half-duplex channel: at most this many
	// transmissions may be outstanding at once before Send returns
	// ErrBusy. 0 disables the check (the link never reports busy).
	MaxInFlight int
	// BusyWindow is how long a transmission occupies the shared channel
	// once admitted. Defaults to 1ms if MaxInFlight > 0 and this is 0.
	BusyWindow time.Duration
}

// NewSimulatedLink creates a medium with the given failure parameters.
func NewSimulatedLink(params LinkParams) *SimulatedLink {
	return &SimulatedLink{
		rng:         rand.New(rand.NewSource(params.Seed)),
		dropRate:    params.DropRate,
		dupRate:     params.DuplicateRate,
		maxDelay:    params.MaxDelay,
		reorder:     params.Reorder,
		endpoints:   make(map[string]*SimulatedAdapter),
		maxInFlight: params.MaxInFlight,
		busyWindow:  params.BusyWindow,
	}
}

// tryOccupy reserves one of the link's in-flight transmission slots,
// releasing it automatically after busyWindow elapses. It reports false
// (and reserves nothing) when the link is already at capacity.
func (l *SimulatedLink) tryOccupy() bool {
	if l.maxInFlight <= 0 {
		return true
	}

	l.mu.Lock()
	if l.inFlight >= l.maxInFlight {
		l.mu.Unlock()
		return false
	}
	l.inFlight++
	window := l.busyWindow
	l.mu.Unlock()

	if window <= 0 {
		window = time.Millisecond
	}
	time.AfterFunc(window, func() {
		l.mu.Lock()
		l.inFlight--
		l.mu.Unlock()
	})
	return true
}

// NewAdapter attaches a new named endpoint to the link. Every datagram
// sent by this adapter is delivered to every other endpoint on the link
// (broadcast), matching the Meshtastic mesh's broadcast channel model.
func (l *SimulatedLink) NewAdapter(name string) *SimulatedAdapter {
	a := &SimulatedAdapter{
		name:   name,
		link:   l,
		inbox:  make(chan []byte, 256),
		closed: make(chan struct{}),
	}
	l.mu.Lock()
	l.endpoints[name] = a
	l.mu.Unlock()
	return a
}

func (l *SimulatedLink) deliver(from string, datagram []byte) {
	l.mu.Lock()
	targets := make([]*SimulatedAdapter, 0, len(l.endpoints))
	for name, ep := range l.endpoints {
		if name != from {
			targets = append(targets, ep)
		}
	}
	dropRate, dupRate, maxDelay := l.dropRate, l.dupRate, l.maxDelay
	l.mu.Unlock()

	for _, ep := range targets {
		copies := 1
		l.mu.Lock()
		roll := l.rng.Float64()
		dupRoll := l.rng.Float64()
		var delay time.Duration
		if maxDelay > 0 {
			delay = time.Duration(l.rng.Int63n(int64(maxDelay) + 1))
		}
		l.mu.Unlock()

		if roll < dropRate {
			continue
		}
		if dupRoll < dupRate {
			copies = 2
		}

		for c := 0; c < copies; c++ {
			msg := append([]byte(nil), datagram...)
			ep.deliverAfter(delay, msg)
		}
	}
}

// SimulatedAdapter is one endpoint on a SimulatedLink, implementing
// radio.Adapter for use in tests.
type SimulatedAdapter struct {
	name   string
	link   *SimulatedLink
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

// Send broadcasts datagram to every other adapter on the shared link,
// subject to the link's configured drop/duplicate/delay behavior. It
// returns ErrBusy without sending if the link's MaxInFlight occupancy
// model reports the channel as already occupied.
func (a *SimulatedAdapter) Send(ctx context.Context, datagram []byte) error {
	select {
	case <-a.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !a.link.tryOccupy() {
		return ErrBusy
	}
	a.link.deliver(a.name, datagram)
	return nil
}

// Recv blocks until a datagram addressed to this endpoint arrives.
func (a *SimulatedAdapter) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-a.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-a.inbox:
		return msg, nil
	}
}

// Close releases the adapter. Further Send/Recv calls return ErrClosed.
func (a *SimulatedAdapter) Close() error {
	a.once.Do(func() { close(a.closed) })
	return nil
}

func (a *SimulatedAdapter) deliverAfter(delay time.Duration, msg []byte) {
	if delay <= 0 {
		a.pushInbox(msg)
		return
	}
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			a.pushInbox(msg)
		case <-a.closed:
		}
	}()
}

func (a *SimulatedAdapter) pushInbox(msg []byte) {
	select {
	case a.inbox <- msg:
	case <-a.closed:
	}
}
