package sweep

import (
	"math/rand/v2"
	"time"
)

// runJittered executes fn at a jittered interval until stopCh is closed.
// The interval is minInterval + random([0, jitterRange)), which keeps a
// fleet of periodic sweepers from waking in lockstep.
func runJittered(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
