// Package fusion decides the authoritative position of each tracked bus
// from driver and student reports, manual control and rider
// confirmations, and owns every BusState mutation.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle-tracker/internal/cluster"
	"shuttle-tracker/internal/geo"
	"shuttle-tracker/internal/stops"
	"shuttle-tracker/internal/tracking"
)

type Engine struct {
	cfg      Config
	store    Store
	stops    *stops.Registry
	clusters *cluster.Engine
	pub      Publisher
	metrics  Metrics
	now      func() time.Time
	newID    func() string
	limiter  *limiter

	mu    sync.RWMutex
	buses map[string]*bus
}

// bus is the in-process aggregate for one tracked bus. Its mutex serializes
// every read-modify-write of the bus's persisted state.
type bus struct {
	mu sync.Mutex
	id string

	lastDriver     time.Time
	lastStudent    time.Time
	studentSharing bool
}

// View is a bus state with its current stop resolved.
type View struct {
	tracking.BusState
	Stop tracking.Stop
}

func New(cfg Config, store Store, registry *stops.Registry, opts ...Option) *Engine {
	d := DefaultConfig()
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = d.StalenessWindow
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = d.ActiveWindow
	}
	if cfg.ArrivalRadius <= 0 {
		cfg.ArrivalRadius = d.ArrivalRadius
	}
	if cfg.MinReportInterval < 0 {
		cfg.MinReportInterval = 0
	}
	if cfg.Quorum <= 0 {
		cfg.Quorum = d.Quorum
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = d.StoreTimeout
	}
	e := &Engine{
		cfg:      cfg,
		store:    store,
		stops:    registry,
		clusters: cluster.New(cluster.DefaultParams()),
		metrics:  nopMetrics{},
		now:      time.Now,
		newID:    uuid.NewString,
		limiter:  newLimiter(cfg.MinReportInterval),
		buses:    make(map[string]*bus),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Init stores the stop list and registers the tracked buses. Buses without
// a persisted state, or all buses when ResetOnStart is set, start at the
// first stop.
func (e *Engine) Init(ctx context.Context, busIDs []string) error {
	if len(busIDs) == 0 {
		return errors.New("fusion: no buses configured")
	}
	sctx, cancel := e.storeCtx(ctx)
	err := e.store.ReplaceStops(sctx, e.stops.All())
	cancel()
	if err != nil {
		return fmt.Errorf("fusion: store stops: %w", err)
	}

	for _, id := range busIDs {
		e.mu.Lock()
		b, ok := e.buses[id]
		if !ok {
			b = &bus{id: id, studentSharing: e.cfg.StudentSharingDefault}
			e.buses[id] = b
		}
		e.mu.Unlock()

		b.mu.Lock()
		_, err := e.loadState(ctx, "fusion.Init", id)
		switch {
		case err == nil && !e.cfg.ResetOnStart:
			log.Printf("bus=%s restored persisted state", id)
		case err == nil || tracking.KindOf(err) == tracking.KindNotFound:
			_, err = e.resetLocked(ctx, b, "startup")
		}
		b.mu.Unlock()
		if err != nil {
			return fmt.Errorf("fusion: init bus %q: %w", id, err)
		}
	}
	return nil
}

// BusIDs returns the tracked buses in order.
func (e *Engine) BusIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.buses))
	for id := range e.buses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) Stops() []tracking.Stop { return e.stops.All() }

func (e *Engine) bus(op, busID string) (*bus, error) {
	e.mu.RLock()
	b, ok := e.buses[busID]
	e.mu.RUnlock()
	if !ok {
		return nil, tracking.NotFound(op, "unknown bus %q", busID)
	}
	return b, nil
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

// fresh reports whether a role clock is inside the staleness window. Every
// authority decision goes through here.
func (e *Engine) fresh(t, now time.Time) bool {
	return !t.IsZero() && now.Sub(t) < e.cfg.StalenessWindow
}

// gpsSource returns the role currently holding GPS authority, or
// SourceNone when both clocks are stale.
func (e *Engine) gpsSource(b *bus, now time.Time) tracking.Source {
	switch {
	case e.fresh(b.lastDriver, now):
		return tracking.SourceDriver
	case e.fresh(b.lastStudent, now):
		return tracking.SourceStudent
	default:
		return tracking.SourceNone
	}
}

func (e *Engine) loadState(ctx context.Context, op, busID string) (tracking.BusState, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	st, err := e.store.GetBusState(sctx, busID)
	if errors.Is(err, tracking.ErrNotFound) {
		return tracking.BusState{}, tracking.NotFound(op, "no state for bus %q", busID)
	}
	if err != nil {
		return tracking.BusState{}, tracking.Internal(op, err)
	}
	return st, nil
}

func (e *Engine) saveState(ctx context.Context, op string, st tracking.BusState) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.SaveBusState(sctx, st); err != nil {
		return tracking.Internal(op, err)
	}
	return nil
}

func (e *Engine) view(st tracking.BusState) View {
	v := View{BusState: st}
	if s, ok := e.stops.At(st.StopIndex); ok {
		v.Stop = s
	}
	return v
}

func (e *Engine) publish(kind tracking.EventKind, st tracking.BusState, at time.Time) {
	e.metrics.Transition(kind)
	if e.pub == nil {
		return
	}
	ev := tracking.StateEvent{Kind: kind, BusID: st.BusID, State: st, At: at}
	ev.Stop, _ = e.stops.At(st.StopIndex)
	if err := e.pub.PublishEvent(ev); err != nil {
		log.Printf("bus=%s publish %s event error: %v", st.BusID, kind, err)
	}
}

type SubmitResult struct {
	State         View
	Role          tracking.Role
	Accuracy      float64
	Authoritative bool
	// Source is what set the bus position; SourceNone when the report was
	// not authoritative.
	Source tracking.Source
	// Moved is true when the report updated the bus position.
	Moved       bool
	StopChanged bool
}

// SubmitLocation records a position report and, when the reporter holds
// authority, moves the bus.
func (e *Engine) SubmitLocation(ctx context.Context, id tracking.Identity, busID string, lat, lon, accuracy float64) (SubmitResult, error) {
	const op = "fusion.SubmitLocation"
	now := e.now()

	prev, wait := e.limiter.reserve(id.UserID, now)
	if wait > 0 {
		e.metrics.ReportRejected("rate_limited")
		return SubmitResult{}, tracking.RateLimited(op, wait)
	}
	res, err := e.submit(ctx, op, id, busID, lat, lon, accuracy, now)
	if err != nil {
		e.limiter.restore(id.UserID, prev)
		e.metrics.ReportRejected(tracking.KindOf(err).String())
		return SubmitResult{}, err
	}
	return res, nil
}

func (e *Engine) submit(ctx context.Context, op string, id tracking.Identity, busID string, lat, lon, accuracy float64, now time.Time) (SubmitResult, error) {
	if id.UserID == "" || !id.Role.Valid() {
		return SubmitResult{}, tracking.Unauthorized(op, "unknown caller")
	}
	if !geo.ValidCoordinate(lat, lon) {
		return SubmitResult{}, tracking.Validation(op, "invalid coordinates %v,%v", lat, lon)
	}
	if math.IsNaN(accuracy) || math.IsInf(accuracy, 0) || accuracy <= 0 {
		return SubmitResult{}, tracking.Validation(op, "accuracy must be positive, got %v", accuracy)
	}
	b, err := e.bus(op, busID)
	if err != nil {
		return SubmitResult{}, err
	}
	if id.Role == tracking.RoleDriver && id.BusID != busID {
		return SubmitResult{}, tracking.Unauthorized(op, "driver %s is not assigned to bus %q", id.UserID, busID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id.Role == tracking.RoleStudent && !b.studentSharing {
		return SubmitResult{}, tracking.Unauthorized(op, "student location sharing is disabled for bus %q", busID)
	}

	cur, err := e.loadState(ctx, op, busID)
	if err != nil {
		return SubmitResult{}, err
	}

	report := tracking.Report{BusID: busID, UserID: id.UserID, Role: id.Role, Lat: lat, Lon: lon, Accuracy: accuracy, Timestamp: now}
	res := SubmitResult{Role: id.Role, Accuracy: accuracy}
	res.Authoritative = id.Role == tracking.RoleDriver || !e.fresh(b.lastDriver, now)

	var next *tracking.BusState
	kind := tracking.EventPosition
	if res.Authoritative {
		fixLat, fixLon := lat, lon
		res.Source = tracking.SourceDriver
		if id.Role == tracking.RoleStudent {
			res.Source = tracking.SourceStudent
			if e.cfg.FuseStudentClusters {
				fixLat, fixLon = e.studentFix(ctx, report)
			}
		}
		n := e.locate(cur, fixLat, fixLon, now)
		n.LocationSource = res.Source
		acc := accuracy
		n.LocationAccuracy = &acc
		next = &n
		kind = transitionKind(cur, n)
	}

	sctx, cancel := e.storeCtx(ctx)
	err = e.store.ApplyReport(sctx, report, next)
	cancel()
	if err != nil {
		return SubmitResult{}, tracking.Internal(op, err)
	}

	if id.Role == tracking.RoleDriver {
		b.lastDriver = now
	} else {
		b.lastStudent = now
	}
	e.metrics.ReportAccepted(id.Role, res.Authoritative)

	if next == nil {
		res.State = e.view(cur)
		return res, nil
	}
	res.State = e.view(*next)
	res.Moved = true
	res.StopChanged = next.StopIndex != cur.StopIndex
	if kind != tracking.EventPosition {
		log.Printf("bus=%s %s stop=%q index=%d source=%s", busID, kind, res.State.Stop.Name, next.StopIndex, res.Source)
	}
	e.publish(kind, *next, now)
	return res, nil
}

// locate applies an authoritative fix to cur. A fix within ArrivalRadius
// of a stop at or ahead of the current one snaps to that stop; otherwise
// the bus takes the exact fix and is departing once it is farther than
// ArrivalRadius from its current stop.
func (e *Engine) locate(cur tracking.BusState, lat, lon float64, now time.Time) tracking.BusState {
	next := cur
	next.UpdatedAt = now

	if s, _, ok := e.stops.Nearest(lat, lon, e.cfg.ArrivalRadius); ok && s.Sequence >= cur.StopIndex {
		next.StopIndex = s.Sequence
		next.Lat, next.Lon = s.Lat, s.Lon
		markArrived(&next, cur, now)
		return next
	}

	next.Lat, next.Lon = lat, lon
	if s, ok := e.stops.At(cur.StopIndex); ok && geo.Distance(lat, lon, s.Lat, s.Lon) > e.cfg.ArrivalRadius {
		markDeparting(&next, cur, now)
	} else {
		markArrived(&next, cur, now)
	}
	return next
}

func markArrived(next *tracking.BusState, cur tracking.BusState, now time.Time) {
	if cur.Status != tracking.StatusArrived || cur.StopIndex != next.StopIndex {
		t := now
		next.LastArrivalTime = &t
	}
	next.Status = tracking.StatusArrived
}

func markDeparting(next *tracking.BusState, cur tracking.BusState, now time.Time) {
	if cur.Status != tracking.StatusDeparting {
		t := now
		next.LastDepartureTime = &t
	}
	next.Status = tracking.StatusDeparting
}

func transitionKind(cur, next tracking.BusState) tracking.EventKind {
	switch {
	case next.Status == tracking.StatusArrived && (cur.Status != tracking.StatusArrived || cur.StopIndex != next.StopIndex):
		return tracking.EventArrived
	case next.Status == tracking.StatusDeparting && cur.Status != tracking.StatusDeparting:
		return tracking.EventDeparted
	default:
		return tracking.EventPosition
	}
}

// studentFix returns the centroid of the largest student cluster the
// reporter belongs to, or the raw report when there is none.
func (e *Engine) studentFix(ctx context.Context, r tracking.Report) (lat, lon float64) {
	sctx, cancel := e.storeCtx(ctx)
	recent, err := e.store.RecentLocations(sctx, r.BusID, r.Timestamp.Add(-e.cfg.StalenessWindow))
	cancel()
	if err != nil {
		log.Printf("bus=%s cluster fix skipped: %v", r.BusID, err)
		return r.Lat, r.Lon
	}
	reports := make([]tracking.Report, 0, len(recent)+1)
	reports = append(reports, r)
	for _, o := range recent {
		if o.UserID != r.UserID {
			reports = append(reports, o)
		}
	}
	for _, c := range e.clusters.Find(reports) {
		if c.Source != tracking.ClusterStudents {
			continue
		}
		for _, m := range c.Members {
			if m.UserID == r.UserID {
				return c.CenterLat, c.CenterLon
			}
		}
	}
	return r.Lat, r.Lon
}
