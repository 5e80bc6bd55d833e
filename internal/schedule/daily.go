// Package schedule runs a job once a day at local midnight.
package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

// NextMidnight returns the first midnight in loc strictly after now.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

type Daily struct {
	loc *time.Location
	fn  func(ctx context.Context) error
	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDaily(loc *time.Location, fn func(ctx context.Context) error) *Daily {
	return &Daily{loc: loc, fn: fn, now: time.Now}
}

// Start arms the timer for the next midnight and re-arms after every run.
// It returns immediately; Stop or cancelling ctx ends the loop.
func (d *Daily) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *Daily) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		now := d.now()
		next := NextMidnight(now, d.loc)
		log.Printf("daily reset scheduled at=%s", next.Format(time.RFC3339))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		start := time.Now()
		if err := d.fn(ctx); err != nil {
			log.Printf("daily reset error dur=%dms: %v", time.Since(start).Milliseconds(), err)
			continue
		}
		log.Printf("daily reset done dur=%dms", time.Since(start).Milliseconds())
	}
}

// Stop cancels the pending run and waits for the loop to exit.
func (d *Daily) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}
