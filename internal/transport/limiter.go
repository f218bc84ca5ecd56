package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// maxBurstBytes bounds the token bucket's burst size regardless of the
// configured rate, so a long idle period never lets a single send consume
// an unbounded number of queued mesh packets at once.
const maxBurstBytes = 256 * 1024

// outboundLimiter is a token-bucket gate on the multiplexer's outbound
// path: each frame consumes tokens equal to its encoded size, so a
// configured bytes-per-second budget is enforced across every stream
// sharing the link, not per stream.
type outboundLimiter struct {
	limiter *rate.Limiter
}

// newOutboundLimiter creates a limiter admitting up to bytesPerSec bytes
// of encoded frames per second. A non-positive bytesPerSec disables
// limiting entirely (Admit always succeeds immediately).
func newOutboundLimiter(bytesPerSec int64) *outboundLimiter {
	if bytesPerSec <= 0 {
		return &outboundLimiter{}
	}

	burst := int(bytesPerSec)
	if burst > maxBurstBytes {
		burst = maxBurstBytes
	}
	return &outboundLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Admit blocks until n bytes' worth of tokens are available or ctx is
// done. A frame larger than the bucket's burst is admitted in
// burst-sized slices so it never starves behind its own reservation.
func (l *outboundLimiter) Admit(ctx context.Context, n int) error {
	if l.limiter == nil {
		return nil
	}

	for n > 0 {
		chunk := n
		if burst := l.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
