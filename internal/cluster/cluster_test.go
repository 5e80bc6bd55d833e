package cluster

import (
	"math"
	"testing"
	"time"

	"shuttle-tracker/internal/geo"
	"shuttle-tracker/internal/tracking"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func report(user string, role tracking.Role, lat, lon, acc float64, age time.Duration) tracking.Report {
	return tracking.Report{BusID: "S1/A", UserID: user, Role: role, Lat: lat, Lon: lon, Accuracy: acc, Timestamp: base.Add(-age)}
}

func TestEqualWeightsGiveSimpleAverage(t *testing.T) {
	reports := []tracking.Report{
		report("s1", tracking.RoleStudent, 17.49600, 78.35800, 5, 1*time.Second),
		report("s2", tracking.RoleStudent, 17.49605, 78.35803, 5, 2*time.Second),
		report("s3", tracking.RoleStudent, 17.49602, 78.35806, 5, 3*time.Second),
	}
	got := New(DefaultParams()).Find(reports)
	if len(got) != 1 {
		t.Fatalf("clusters = %d, want 1", len(got))
	}
	c := got[0]
	wantLat := (17.49600 + 17.49605 + 17.49602) / 3
	wantLon := (78.35800 + 78.35803 + 78.35806) / 3
	if math.Abs(c.CenterLat-wantLat) > 1e-9 || math.Abs(c.CenterLon-wantLon) > 1e-9 {
		t.Fatalf("centroid = %v,%v want %v,%v", c.CenterLat, c.CenterLon, wantLat, wantLon)
	}
	for _, m := range c.Members {
		if d := geo.Distance(c.CenterLat, c.CenterLon, m.Lat, m.Lon); d > c.Radius+1e-9 {
			t.Fatalf("member %s at %vm outside radius %v", m.UserID, d, c.Radius)
		}
	}
	if c.Source != tracking.ClusterStudents || !c.IsMajority || len(c.Members) != 3 {
		t.Fatalf("unexpected cluster %+v", c)
	}
}

func TestAccuracyFloorAndWeighting(t *testing.T) {
	// accuracies below the 5m floor weigh the same as 5m
	reports := []tracking.Report{
		report("s1", tracking.RoleStudent, 17.4960, 78.3580, 1, 0),
		report("s2", tracking.RoleStudent, 17.4961, 78.3580, 5, 0),
	}
	c := New(DefaultParams()).Find(reports)[0]
	if math.Abs(c.CenterLat-17.49605) > 1e-9 {
		t.Fatalf("floored weights not equal: lat %v", c.CenterLat)
	}

	// a 10m fix counts a quarter of a 5m fix
	reports[0].Accuracy = 5
	reports[1].Accuracy = 10
	c = New(DefaultParams()).Find(reports)[0]
	want := (17.4960*1 + 17.4961*0.25) / 1.25
	if math.Abs(c.CenterLat-want) > 1e-9 {
		t.Fatalf("weighted lat = %v, want %v", c.CenterLat, want)
	}
}

func TestDriverSeedCluster(t *testing.T) {
	reports := []tracking.Report{
		report("d1", tracking.RoleDriver, 17.4960, 78.3580, 10, 0),
		report("s1", tracking.RoleStudent, 17.4962, 78.3581, 20, time.Second),
		report("s2", tracking.RoleStudent, 17.5100, 78.3800, 20, 2*time.Second),
	}
	got := New(DefaultParams()).Find(reports)
	if len(got) != 1 {
		t.Fatalf("clusters = %d, want 1", len(got))
	}
	c := got[0]
	if c.Source != tracking.ClusterDriver {
		t.Fatalf("source = %s, want driver", c.Source)
	}
	if c.CenterLat != 17.4960 || c.CenterLon != 78.3580 {
		t.Fatalf("driver cluster must be centred on the driver, got %v,%v", c.CenterLat, c.CenterLon)
	}
	if !c.IsMajority {
		t.Fatal("2 of 3 reports should be a majority")
	}
}

func TestLoneDriverFallsThroughToStudents(t *testing.T) {
	reports := []tracking.Report{
		report("d1", tracking.RoleDriver, 17.5400, 78.3860, 10, 0),
		report("s1", tracking.RoleStudent, 17.4960, 78.3580, 10, time.Second),
		report("s2", tracking.RoleStudent, 17.4961, 78.3581, 10, 2*time.Second),
	}
	got := New(DefaultParams()).Find(reports)
	if len(got) != 1 || got[0].Source != tracking.ClusterStudents {
		t.Fatalf("unexpected clusters %+v", got)
	}
	for _, m := range got[0].Members {
		if m.UserID == "d1" {
			t.Fatal("far driver must not join the student cluster")
		}
	}
}

func TestOrderedByMembers(t *testing.T) {
	reports := []tracking.Report{
		report("a1", tracking.RoleStudent, 17.4960, 78.3580, 10, 0),
		report("b1", tracking.RoleStudent, 17.5100, 78.3800, 10, time.Second),
		report("a2", tracking.RoleStudent, 17.4961, 78.3580, 10, 2*time.Second),
		report("b2", tracking.RoleStudent, 17.5101, 78.3800, 10, 3*time.Second),
		report("b3", tracking.RoleStudent, 17.5100, 78.3801, 10, 4*time.Second),
	}
	got := New(DefaultParams()).Find(reports)
	if len(got) != 2 {
		t.Fatalf("clusters = %d, want 2", len(got))
	}
	if len(got[0].Members) != 3 || len(got[1].Members) != 2 {
		t.Fatalf("wrong order: %d then %d", len(got[0].Members), len(got[1].Members))
	}
	if !got[0].IsMajority || got[1].IsMajority {
		t.Fatalf("majority flags wrong: %v %v", got[0].IsMajority, got[1].IsMajority)
	}
}

func TestNoClusterBelowMinPoints(t *testing.T) {
	reports := []tracking.Report{
		report("s1", tracking.RoleStudent, 17.4960, 78.3580, 10, 0),
		report("s2", tracking.RoleStudent, 17.5400, 78.3860, 10, time.Second),
	}
	if got := New(DefaultParams()).Find(reports); len(got) != 0 {
		t.Fatalf("expected no clusters, got %+v", got)
	}
	if got := New(DefaultParams()).Find(nil); got != nil {
		t.Fatalf("expected nil for no reports, got %+v", got)
	}
}

func TestRefilterAgainstCentroid(t *testing.T) {
	// s2 is ~75m east of the seed but the precise pair ~30m west pulls the
	// centroid away, leaving s2 ~95m from it
	p := Params{MaxRadius: 80, MinPoints: 2, MinAccuracy: 5}
	reports := []tracking.Report{
		report("s1", tracking.RoleStudent, 17.49600, 78.358000, 5, 0),
		report("s2", tracking.RoleStudent, 17.49600, 78.358706, 50, time.Second),
		report("s3", tracking.RoleStudent, 17.49600, 78.357717, 5, 2*time.Second),
		report("s4", tracking.RoleStudent, 17.49601, 78.357717, 5, 3*time.Second),
	}
	got := New(p).Find(reports)
	if len(got) != 1 {
		t.Fatalf("clusters = %d, want 1", len(got))
	}
	if len(got[0].Members) != 3 {
		t.Fatalf("members = %d, want 3", len(got[0].Members))
	}
	for _, m := range got[0].Members {
		if m.UserID == "s2" {
			t.Fatal("s2 should have been dropped by the centroid filter")
		}
		if geo.Distance(got[0].CenterLat, got[0].CenterLon, m.Lat, m.Lon) > p.MaxRadius {
			t.Fatalf("member %s outside radius of centroid", m.UserID)
		}
	}
	if got[0].IsMajority != true {
		t.Fatal("3 of 4 reports should be a majority")
	}
}
