package transport

import (
	"math/rand"
	"time"
)

// nextDelay computes the reconnect delay for the given attempt:
// exponential growth from base, capped, with jitter in the upper half
// of the window so concurrent agents do not reconnect in lockstep.
func nextDelay(rng *rand.Rand, base, ceil time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if ceil < base {
		ceil = base
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d >= ceil/2 {
			d = ceil
			break
		}
		d *= 2
	}
	if d > ceil {
		d = ceil
	}

	half := d / 2
	return half + time.Duration(rng.Int63n(int64(half)+1))
}
