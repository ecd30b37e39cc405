// Package jobs runs periodic housekeeping: store size gauges and the redis
// key audit. Nothing in here is needed for correctness; expiry itself is
// handled by the stores.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mealzee-auth/internal/util"
)

// slowJobThreshold is when a run gets logged as slow.
const slowJobThreshold = 10 * time.Second

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

type Scheduler struct {
	c   *cron.Cron
	mu  sync.Mutex
	ids map[string]cron.EntryID
}

func NewScheduler() *Scheduler {
	logger := cronLogger{s: util.Get().Sugar()}
	return &Scheduler{
		c:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		ids: make(map[string]cron.EntryID),
	}
}

// AddFunc schedules f every interval under a unique symbol. A run that is
// still going when the next one is due delays it instead of overlapping.
func (s *Scheduler) AddFunc(symbol string, every time.Duration, f func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[symbol]; ok {
		return fmt.Errorf("%s cron job already exists", symbol)
	}

	secs := every.Seconds()
	if secs < 1 {
		secs = 1
	}
	spec := fmt.Sprintf("@every %.0fs", secs)

	job := cron.FuncJob(func() {
		start := time.Now()
		f()
		if cost := time.Since(start); cost > slowJobThreshold {
			util.Warn("Slow cron job", zap.String("job", symbol), zap.Duration("cost", cost))
		}
	})

	id, err := s.c.AddJob(spec, cron.NewChain(cron.DelayIfStillRunning(cronLogger{s: util.Get().Sugar()})).Then(job))
	if err != nil {
		return err
	}
	s.ids[symbol] = id
	util.Info("Cron job scheduled", zap.String("job", symbol), zap.Duration("every", every))
	return nil
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop prevents new runs and waits for running ones, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
