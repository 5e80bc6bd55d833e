// Package cluster groups concurrent position reports for one bus into
// spatial clusters with accuracy-weighted centroids.
package cluster

import (
	"math"
	"sort"

	"shuttle-tracker/internal/geo"
	"shuttle-tracker/internal/tracking"
)

type Params struct {
	MaxRadius   float64 // meters
	MinPoints   int
	MinAccuracy float64 // accuracy floor used for weighting, meters
}

func DefaultParams() Params {
	return Params{MaxRadius: 80, MinPoints: 2, MinAccuracy: 5}
}

type Engine struct {
	p Params
}

func New(p Params) *Engine {
	d := DefaultParams()
	if p.MaxRadius <= 0 {
		p.MaxRadius = d.MaxRadius
	}
	if p.MinPoints <= 0 {
		p.MinPoints = d.MinPoints
	}
	if p.MinAccuracy <= 0 {
		p.MinAccuracy = d.MinAccuracy
	}
	return &Engine{p: p}
}

func (e *Engine) Params() Params { return e.p }

// Find clusters reports, which must be ordered newest first. A report
// joins at most one cluster. The result is ordered by member count,
// largest first, and is empty when no cluster reaches MinPoints.
func (e *Engine) Find(reports []tracking.Report) []tracking.Cluster {
	if len(reports) == 0 {
		return nil
	}
	consumed := make([]bool, len(reports))
	var out []tracking.Cluster

	// seed at the most recent driver report
	if d, ok := latestDriver(reports); ok {
		idx := e.within(reports, consumed, d.Lat, d.Lon)
		if len(idx) >= e.p.MinPoints {
			out = append(out, e.commit(reports, consumed, idx, d.Lat, d.Lon, tracking.ClusterDriver))
		}
	}

	for i, r := range reports {
		if consumed[i] {
			continue
		}
		idx := e.within(reports, consumed, r.Lat, r.Lon)
		if len(idx) < e.p.MinPoints {
			continue
		}
		lat, lon := e.centroid(reports, idx)
		kept := make([]int, 0, len(idx))
		for _, j := range idx {
			if geo.Distance(lat, lon, reports[j].Lat, reports[j].Lon) <= e.p.MaxRadius {
				kept = append(kept, j)
			}
		}
		if len(kept) < e.p.MinPoints {
			continue
		}
		out = append(out, e.commit(reports, consumed, kept, lat, lon, tracking.ClusterStudents))
	}

	sort.SliceStable(out, func(i, j int) bool { return len(out[i].Members) > len(out[j].Members) })
	total := len(reports)
	for i := range out {
		out[i].IsMajority = 2*len(out[i].Members) > total
	}
	return out
}

// within returns the indices of unconsumed reports within MaxRadius of lat/lon.
func (e *Engine) within(reports []tracking.Report, consumed []bool, lat, lon float64) []int {
	var idx []int
	for j, r := range reports {
		if consumed[j] {
			continue
		}
		if geo.Distance(lat, lon, r.Lat, r.Lon) <= e.p.MaxRadius {
			idx = append(idx, j)
		}
	}
	return idx
}

// centroid weights each point by 1/max(accuracy, MinAccuracy)^2.
func (e *Engine) centroid(reports []tracking.Report, idx []int) (lat, lon float64) {
	var sumW float64
	for _, j := range idx {
		acc := math.Max(reports[j].Accuracy, e.p.MinAccuracy)
		w := 1 / (acc * acc)
		lat += reports[j].Lat * w
		lon += reports[j].Lon * w
		sumW += w
	}
	return lat / sumW, lon / sumW
}

func (e *Engine) commit(reports []tracking.Report, consumed []bool, idx []int, lat, lon float64, src tracking.ClusterSource) tracking.Cluster {
	c := tracking.Cluster{CenterLat: lat, CenterLon: lon, Source: src, Members: make([]tracking.Report, 0, len(idx))}
	for _, j := range idx {
		consumed[j] = true
		c.Members = append(c.Members, reports[j])
		if d := geo.Distance(lat, lon, reports[j].Lat, reports[j].Lon); d > c.Radius {
			c.Radius = d
		}
	}
	return c
}

func latestDriver(reports []tracking.Report) (tracking.Report, bool) {
	for _, r := range reports {
		if r.Role == tracking.RoleDriver {
			return r, true
		}
	}
	return tracking.Report{}, false
}
