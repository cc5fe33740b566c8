package sweep

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/log"
	"github.com/kubohiroya/hierarchidb/pkg/metrics"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultMinInterval = 5 * time.Minute
	defaultJitterRange = 30 * time.Second
)

// Sweeper periodically reaps working copies past their TTL. One instance
// is started by engine.Initialize and stopped by
// Shutdown — the same engine-scoped lifetime every other component in this
// module follows.
type Sweeper struct {
	ephemeral   *storage.EphemeralDB
	logger      zerolog.Logger
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	minInterval time.Duration
	jitterRange time.Duration

	// sweepHook, if set, is called at the start of every sweep cycle —
	// a test hook letting tests observe cycle boundaries without sleeping
	// for the real interval.
	sweepHook func()

	// lastSweepAt and totalSwept back getSystemHealth's maintenance counters;
	// both are written from the sweep goroutine and read from whatever
	// goroutine calls GetSystemHealth, hence the atomics.
	lastSweepAt atomic.Int64
	totalSwept  atomic.Int64
}

func NewSweeper(ephemeral *storage.EphemeralDB) *Sweeper {
	return newSweeperWithIntervals(ephemeral, defaultMinInterval, defaultJitterRange)
}

func newSweeperWithIntervals(ephemeral *storage.EphemeralDB, minInterval, jitterRange time.Duration) *Sweeper {
	return &Sweeper{
		ephemeral:   ephemeral,
		logger:      log.WithComponent("sweep"),
		stopCh:      make(chan struct{}),
		minInterval: minInterval,
		jitterRange: jitterRange,
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runJittered(s.stopCh, s.minInterval, s.jitterRange, s.sweepOnce)
	}()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SweepNow runs one sweep cycle synchronously, for callers (tests) that
// don't want to wait out the jittered interval.
func (s *Sweeper) SweepNow() (reaped int, err error) {
	return s.runSweep()
}

func (s *Sweeper) sweepOnce() {
	if _, err := s.runSweep(); err != nil {
		s.logger.Error().Err(err).Msg("sweep cycle failed")
	}
}

func (s *Sweeper) runSweep() (int, error) {
	if s.sweepHook != nil {
		s.sweepHook()
	}
	timer := metrics.NewTimer()
	defer func() { metrics.SweepDuration.Observe(timer.Duration().Seconds()) }()
	defer s.lastSweepAt.Store(time.Now().UnixMilli())

	cutoff := types.Timestamp(time.Now().UnixMilli())
	var ids []types.WorkingCopyId
	if err := s.ephemeral.View(func(tx *storage.EphemeralTx) error {
		var err error
		ids, err = tx.ExpiredWorkingCopyIds(cutoff)
		return err
	}); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	reaped := 0
	err := s.ephemeral.Update(func(tx *storage.EphemeralTx) error {
		for _, id := range ids {
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			if err := tx.DeleteWorkingCopy(id); err != nil {
				return err
			}
			reaped++
		}
		return nil
	})
	if err != nil {
		return reaped, err
	}

	if reaped > 0 {
		metrics.WorkingCopiesSweptTotal.Add(float64(reaped))
		metrics.WorkingCopiesOutstanding.Sub(float64(reaped))
		s.totalSwept.Add(int64(reaped))
		s.logger.Info().Int("reaped", reaped).Msg("swept expired working copies")
	}
	return reaped, nil
}

// LastSweepAt returns the wall-clock time of the most recently completed
// sweep cycle, or zero if none has run yet.
func (s *Sweeper) LastSweepAt() types.Timestamp {
	return types.Timestamp(s.lastSweepAt.Load())
}

// TotalSwept returns the cumulative count of working copies reaped across
// every cycle since this Sweeper was created.
func (s *Sweeper) TotalSwept() int64 {
	return s.totalSwept.Load()
}
