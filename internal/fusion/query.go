package fusion

import (
	"context"
	"log"
	"time"

	"shuttle-tracker/internal/tracking"
)

func (e *Engine) BusState(ctx context.Context, busID string) (View, error) {
	const op = "fusion.BusState"
	if _, err := e.bus(op, busID); err != nil {
		return View{}, err
	}
	st, err := e.loadState(ctx, op, busID)
	if err != nil {
		return View{}, err
	}
	return e.view(st), nil
}

// States returns a view of every tracked bus.
func (e *Engine) States(ctx context.Context) ([]View, error) {
	ids := e.BusIDs()
	out := make([]View, 0, len(ids))
	for _, id := range ids {
		v, err := e.BusState(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type DriverSummary struct {
	UserID     string
	LastUpdate time.Time
	Accuracy   float64
	Fresh      bool
}

type StudentSummary struct {
	Count        int
	LastUpdate   *time.Time
	MeanAccuracy float64
}

type Summary struct {
	BusID       string
	ActiveUsers int
	LastUpdate  *time.Time
	Driver      *DriverSummary
	Students    StudentSummary
	// Clusters are computed over the reports inside the staleness window;
	// ClusterReports is their count.
	Clusters       []tracking.Cluster
	ClusterReports int
}

// ActiveLocations summarizes the recent reports for a bus and refreshes
// its cached clusters.
func (e *Engine) ActiveLocations(ctx context.Context, busID string) (Summary, error) {
	const op = "fusion.ActiveLocations"
	if _, err := e.bus(op, busID); err != nil {
		return Summary{}, err
	}
	now := e.now()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	recent, err := e.store.RecentLocations(sctx, busID, now.Add(-e.cfg.ActiveWindow))
	if err != nil {
		return Summary{}, tracking.Internal(op, err)
	}

	sum := Summary{BusID: busID, ActiveUsers: len(recent)}
	if len(recent) == 0 {
		return sum, nil
	}
	latest := recent[0].Timestamp
	sum.LastUpdate = &latest

	var accSum float64
	var clusterInput []tracking.Report
	for _, r := range recent {
		if now.Sub(r.Timestamp) < e.cfg.StalenessWindow {
			clusterInput = append(clusterInput, r)
		}
		switch r.Role {
		case tracking.RoleDriver:
			if sum.Driver == nil {
				sum.Driver = &DriverSummary{UserID: r.UserID, LastUpdate: r.Timestamp, Accuracy: r.Accuracy, Fresh: e.fresh(r.Timestamp, now)}
			}
		case tracking.RoleStudent:
			if sum.Students.Count == 0 {
				t := r.Timestamp
				sum.Students.LastUpdate = &t
			}
			sum.Students.Count++
			accSum += r.Accuracy
		}
	}
	if sum.Students.Count > 0 {
		sum.Students.MeanAccuracy = accSum / float64(sum.Students.Count)
	}

	sum.Clusters = e.clusters.Find(clusterInput)
	sum.ClusterReports = len(clusterInput)
	e.metrics.ClustersObserved(busID, len(sum.Clusters))
	if err := e.store.SaveClusters(sctx, busID, sum.Clusters, len(clusterInput), now); err != nil {
		log.Printf("bus=%s cache clusters error: %v", busID, err)
	}
	return sum, nil
}

type GPSStatus struct {
	// Active is true while either role's clock is fresh; manual control is
	// refused while it is.
	Active            bool
	Source            tracking.Source
	LastUpdate        *time.Time
	DriverActive      bool
	DriverLastUpdate  *time.Time
	StudentActive     bool
	StudentLastUpdate *time.Time
}

func (e *Engine) GPSStatus(ctx context.Context, busID string) (GPSStatus, error) {
	b, err := e.bus("fusion.GPSStatus", busID)
	if err != nil {
		return GPSStatus{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := e.now()
	st := GPSStatus{
		Source:            e.gpsSource(b, now),
		DriverActive:      e.fresh(b.lastDriver, now),
		StudentActive:     e.fresh(b.lastStudent, now),
		DriverLastUpdate:  timePtr(b.lastDriver),
		StudentLastUpdate: timePtr(b.lastStudent),
	}
	st.Active = st.Source != tracking.SourceNone
	switch {
	case b.lastDriver.After(b.lastStudent):
		st.LastUpdate = timePtr(b.lastDriver)
	default:
		st.LastUpdate = timePtr(b.lastStudent)
	}
	return st, nil
}

// Confirmations returns the number of confirmations recorded for a stop.
func (e *Engine) Confirmations(ctx context.Context, busID string, stopID int) (int, error) {
	const op = "fusion.Confirmations"
	if _, err := e.bus(op, busID); err != nil {
		return 0, err
	}
	if _, ok := e.stops.ByID(stopID); !ok {
		return 0, tracking.NotFound(op, "unknown stop %d", stopID)
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	n, err := e.store.CountConfirmations(sctx, busID, stopID)
	if err != nil {
		return 0, tracking.Internal(op, err)
	}
	return n, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
