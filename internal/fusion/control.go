package fusion

import (
	"context"
	"errors"
	"log"
	"time"

	"shuttle-tracker/internal/tracking"
)

func requireDriver(op string, id tracking.Identity, busID string) error {
	if id.Role != tracking.RoleDriver {
		return tracking.Unauthorized(op, "driver role required")
	}
	if id.BusID != busID {
		return tracking.Unauthorized(op, "driver %s is not assigned to bus %q", id.UserID, busID)
	}
	return nil
}

// advance moves cur one stop forward, saturating at the last stop.
func (e *Engine) advance(cur tracking.BusState, src tracking.Source, now time.Time) tracking.BusState {
	next := cur
	next.StopIndex = min(cur.StopIndex+1, e.stops.Len()-1)
	s, _ := e.stops.At(next.StopIndex)
	next.Lat, next.Lon = s.Lat, s.Lon
	next.Status = tracking.StatusNone
	next.LocationSource = src
	next.LocationAccuracy = nil
	next.UpdatedAt = now
	t := now
	next.LastArrivalTime = &t
	return next
}

// ManualAdvance moves the bus to the next stop. It is refused while any
// GPS source is fresh.
func (e *Engine) ManualAdvance(ctx context.Context, id tracking.Identity, busID string) (View, error) {
	const op = "fusion.ManualAdvance"
	if err := requireDriver(op, id, busID); err != nil {
		return View{}, err
	}
	b, err := e.bus(op, busID)
	if err != nil {
		return View{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := e.now()
	if src := e.gpsSource(b, now); src != tracking.SourceNone {
		return View{}, tracking.Conflict(op, src, "GPS is active (%s), manual control is disabled", src)
	}
	cur, err := e.loadState(ctx, op, busID)
	if err != nil {
		return View{}, err
	}
	next := e.advance(cur, tracking.SourceManual, now)
	if err := e.saveState(ctx, op, next); err != nil {
		return View{}, err
	}
	v := e.view(next)
	log.Printf("bus=%s manual advance to stop=%q index=%d driver=%s", busID, v.Stop.Name, next.StopIndex, id.UserID)
	e.publish(tracking.EventAdvanced, next, now)
	return v, nil
}

// ManualDeparted marks the bus as departing from its current stop.
func (e *Engine) ManualDeparted(ctx context.Context, id tracking.Identity, busID string) (View, error) {
	const op = "fusion.ManualDeparted"
	if err := requireDriver(op, id, busID); err != nil {
		return View{}, err
	}
	b, err := e.bus(op, busID)
	if err != nil {
		return View{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := e.now()
	if src := e.gpsSource(b, now); src != tracking.SourceNone {
		return View{}, tracking.Conflict(op, src, "GPS is active (%s), manual control is disabled", src)
	}
	cur, err := e.loadState(ctx, op, busID)
	if err != nil {
		return View{}, err
	}
	next := cur
	markDeparting(&next, cur, now)
	next.UpdatedAt = now
	if err := e.saveState(ctx, op, next); err != nil {
		return View{}, err
	}
	log.Printf("bus=%s manual departed index=%d driver=%s", busID, next.StopIndex, id.UserID)
	e.publish(tracking.EventDeparted, next, now)
	return e.view(next), nil
}

// ManualReset resets the driver's bus to the first stop.
func (e *Engine) ManualReset(ctx context.Context, id tracking.Identity, busID string) (View, error) {
	const op = "fusion.ManualReset"
	if err := requireDriver(op, id, busID); err != nil {
		return View{}, err
	}
	b, err := e.bus(op, busID)
	if err != nil {
		return View{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return e.resetLocked(ctx, b, "manual")
}

// Reset returns the bus to the first stop, clears status, both GPS clocks
// and its confirmations. The student sharing toggle is kept.
func (e *Engine) Reset(ctx context.Context, busID string) (View, error) {
	b, err := e.bus("fusion.Reset", busID)
	if err != nil {
		return View{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return e.resetLocked(ctx, b, "scheduled")
}

// ResetAll resets every tracked bus and returns the joined errors.
func (e *Engine) ResetAll(ctx context.Context) error {
	var errs []error
	for _, id := range e.BusIDs() {
		if _, err := e.Reset(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) resetLocked(ctx context.Context, b *bus, trigger string) (View, error) {
	const op = "fusion.Reset"
	now := e.now()
	first := e.stops.First()
	next := tracking.BusState{
		BusID:     b.id,
		StopIndex: first.Sequence,
		Lat:       first.Lat,
		Lon:       first.Lon,
		UpdatedAt: now,
	}
	if cur, err := e.loadState(ctx, op, b.id); err == nil {
		next.LastArrivalTime = cur.LastArrivalTime
		next.LastDepartureTime = cur.LastDepartureTime
	} else if tracking.KindOf(err) != tracking.KindNotFound {
		return View{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	err := e.store.ResetBus(sctx, next)
	cancel()
	if err != nil {
		return View{}, tracking.Internal(op, err)
	}
	b.lastDriver = time.Time{}
	b.lastStudent = time.Time{}

	e.metrics.ResetPerformed(trigger)
	log.Printf("bus=%s reset to stop=%q trigger=%s", b.id, first.Name, trigger)
	e.publish(tracking.EventReset, next, now)
	return e.view(next), nil
}

// StopDriverSharing clears the driver GPS clock so manual control becomes
// available without waiting for the staleness window.
func (e *Engine) StopDriverSharing(ctx context.Context, id tracking.Identity, busID string) error {
	const op = "fusion.StopDriverSharing"
	if err := requireDriver(op, id, busID); err != nil {
		return err
	}
	b, err := e.bus(op, busID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.lastDriver = time.Time{}
	b.mu.Unlock()
	log.Printf("bus=%s driver %s stopped location sharing", busID, id.UserID)
	return nil
}

// ToggleStudentSharing enables or disables student reports for the bus.
// Disabling also clears the student GPS clock.
func (e *Engine) ToggleStudentSharing(ctx context.Context, id tracking.Identity, busID string, enabled bool) (bool, error) {
	const op = "fusion.ToggleStudentSharing"
	if err := requireDriver(op, id, busID); err != nil {
		return false, err
	}
	b, err := e.bus(op, busID)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.studentSharing = enabled
	if !enabled {
		b.lastStudent = time.Time{}
	}
	log.Printf("bus=%s student sharing enabled=%t driver=%s", busID, enabled, id.UserID)
	return enabled, nil
}

func (e *Engine) StudentSharing(ctx context.Context, busID string) (bool, error) {
	b, err := e.bus("fusion.StudentSharing", busID)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.studentSharing, nil
}

type ConfirmResult struct {
	// Stop is the stop the confirmation was recorded for.
	Stop      tracking.Stop
	Count     int
	Quorum    int
	Duplicate bool
	GPSActive bool
	Moved     bool
	State     View
}

// ConfirmArrival records a student's arrival confirmation for the bus's
// current stop. Reaching the quorum while no GPS source is fresh advances
// the bus one stop.
func (e *Engine) ConfirmArrival(ctx context.Context, id tracking.Identity, busID string) (ConfirmResult, error) {
	const op = "fusion.ConfirmArrival"
	if id.Role != tracking.RoleStudent {
		return ConfirmResult{}, tracking.Unauthorized(op, "student role required")
	}
	if id.BusID != "" && id.BusID != busID {
		return ConfirmResult{}, tracking.Unauthorized(op, "student %s is not riding bus %q", id.UserID, busID)
	}
	b, err := e.bus(op, busID)
	if err != nil {
		return ConfirmResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := e.now()
	cur, err := e.loadState(ctx, op, busID)
	if err != nil {
		return ConfirmResult{}, err
	}
	stop, _ := e.stops.At(cur.StopIndex)
	res := ConfirmResult{Stop: stop, Quorum: e.cfg.Quorum, State: e.view(cur)}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if e.cfg.DedupeConfirmations {
		if res.Duplicate, err = e.store.HasConfirmed(sctx, busID, stop.ID, id.UserID); err != nil {
			return ConfirmResult{}, tracking.Internal(op, err)
		}
	}
	if !res.Duplicate {
		c := tracking.Confirmation{ID: e.newID(), BusID: busID, StopID: stop.ID, Role: id.Role, UserID: id.UserID, Timestamp: now}
		if err := e.store.AddConfirmation(sctx, c); err != nil {
			return ConfirmResult{}, tracking.Internal(op, err)
		}
	}
	e.metrics.ConfirmationRecorded(res.Duplicate)
	if res.Count, err = e.store.CountConfirmations(sctx, busID, stop.ID); err != nil {
		return ConfirmResult{}, tracking.Internal(op, err)
	}

	src := e.gpsSource(b, now)
	res.GPSActive = src != tracking.SourceNone
	if res.Count < e.cfg.Quorum {
		return res, nil
	}
	if res.GPSActive {
		log.Printf("bus=%s quorum reached at stop=%q but GPS is active (%s), not moving", busID, stop.Name, src)
		return res, nil
	}

	next := e.advance(cur, tracking.SourceConfirmation, now)
	if err := e.store.SaveBusState(sctx, next); err != nil {
		return ConfirmResult{}, tracking.Internal(op, err)
	}
	res.Moved = true
	res.State = e.view(next)
	log.Printf("bus=%s confirmations=%d advanced to stop=%q index=%d", busID, res.Count, res.State.Stop.Name, next.StopIndex)
	e.publish(tracking.EventAdvanced, next, now)
	return res, nil
}
