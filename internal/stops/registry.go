package stops

import (
	"errors"
	"fmt"
	"sort"

	"shuttle-tracker/internal/geo"
	"shuttle-tracker/internal/tracking"
)

// Registry is the ordered stop list for a run. It is never mutated after
// New returns, so it is safe for concurrent use.
type Registry struct {
	stops []tracking.Stop
	byID  map[int]int
}

func New(list []tracking.Stop) (*Registry, error) {
	if len(list) == 0 {
		return nil, errors.New("stops: empty stop list")
	}
	sorted := make([]tracking.Stop, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	byID := make(map[int]int, len(sorted))
	for i, s := range sorted {
		if s.Sequence != i {
			return nil, fmt.Errorf("stops: sequence indices must be 0..%d, got %d for %q", len(sorted)-1, s.Sequence, s.Name)
		}
		if !geo.ValidCoordinate(s.Lat, s.Lon) {
			return nil, fmt.Errorf("stops: invalid coordinates for %q: %v,%v", s.Name, s.Lat, s.Lon)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("stops: duplicate stop id %d", s.ID)
		}
		byID[s.ID] = i
	}
	return &Registry{stops: sorted, byID: byID}, nil
}

func (r *Registry) All() []tracking.Stop {
	out := make([]tracking.Stop, len(r.stops))
	copy(out, r.stops)
	return out
}

func (r *Registry) Len() int { return len(r.stops) }

// At returns the stop with the given sequence index.
func (r *Registry) At(index int) (tracking.Stop, bool) {
	if index < 0 || index >= len(r.stops) {
		return tracking.Stop{}, false
	}
	return r.stops[index], true
}

func (r *Registry) ByID(id int) (tracking.Stop, bool) {
	i, ok := r.byID[id]
	if !ok {
		return tracking.Stop{}, false
	}
	return r.stops[i], true
}

func (r *Registry) First() tracking.Stop { return r.stops[0] }

func (r *Registry) Last() tracking.Stop { return r.stops[len(r.stops)-1] }

// Nearest returns the closest stop within radius meters of lat/lon. Equal
// distances resolve to the lower sequence index.
func (r *Registry) Nearest(lat, lon, radius float64) (tracking.Stop, float64, bool) {
	best := -1
	bestDist := 0.0
	for i, s := range r.stops {
		d := geo.Distance(lat, lon, s.Lat, s.Lon)
		if d > radius {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return tracking.Stop{}, 0, false
	}
	return r.stops[best], bestDist, true
}
