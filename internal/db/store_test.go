package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shuttle-tracker/internal/tracking"
)

type contractStore interface {
	ReplaceStops(ctx context.Context, list []tracking.Stop) error
	ListStops(ctx context.Context) ([]tracking.Stop, error)
	GetBusState(ctx context.Context, busID string) (tracking.BusState, error)
	SaveBusState(ctx context.Context, st tracking.BusState) error
	ListBusStates(ctx context.Context) ([]tracking.BusState, error)
	ApplyReport(ctx context.Context, r tracking.Report, next *tracking.BusState) error
	RecentLocations(ctx context.Context, busID string, since time.Time) ([]tracking.Report, error)
	AddConfirmation(ctx context.Context, c tracking.Confirmation) error
	CountConfirmations(ctx context.Context, busID string, stopID int) (int, error)
	HasConfirmed(ctx context.Context, busID string, stopID int, userID string) (bool, error)
	ResetBus(ctx context.Context, st tracking.BusState) error
	SaveClusters(ctx context.Context, busID string, clusters []tracking.Cluster, total int, at time.Time) error
	CachedClusterCount(ctx context.Context, busID string) (int, error)
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	dsn, err := SQLiteDSN(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatal(err)
	}
	conn, err := Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	if err := Ping(ctx, conn); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := InitSchema(ctx, conn); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	// idempotent
	if err := InitSchema(ctx, conn); err != nil {
		t.Fatalf("init schema twice: %v", err)
	}
	runStoreContract(t, NewStore(conn, DriverSQLite))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TRACKER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TRACKER_TEST_DATABASE_URL not set, skipping PostgreSQL store test")
	}
	conn, err := Open(DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	if err := InitSchema(ctx, conn); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	for _, table := range []string{"stops", "bus_state", "user_locations", "confirmations", "location_clusters"} {
		if _, err := conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
	runStoreContract(t, NewStore(conn, DriverPostgres))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func runStoreContract(t *testing.T, s contractStore) {
	ctx := context.Background()

	t.Run("stops", func(t *testing.T) {
		list := []tracking.Stop{
			{ID: 1, Name: "Gate", Lat: 17.49, Lon: 78.33, Sequence: 0},
			{ID: 2, Name: "Library", Lat: 17.50, Lon: 78.34, Sequence: 1},
		}
		if err := s.ReplaceStops(ctx, list); err != nil {
			t.Fatalf("ReplaceStops: %v", err)
		}
		if err := s.ReplaceStops(ctx, list); err != nil {
			t.Fatalf("ReplaceStops again: %v", err)
		}
		got, err := s.ListStops(ctx)
		if err != nil {
			t.Fatalf("ListStops: %v", err)
		}
		if len(got) != 2 || got[1].Name != "Library" {
			t.Fatalf("ListStops = %+v", got)
		}
	})

	t.Run("bus state round trip", func(t *testing.T) {
		if _, err := s.GetBusState(ctx, "missing"); !errors.Is(err, tracking.ErrNotFound) {
			t.Fatalf("GetBusState(missing) err = %v, want ErrNotFound", err)
		}
		acc := 12.5
		arrived := t0.Add(-time.Minute)
		st := tracking.BusState{
			BusID: "S1/A", StopIndex: 3, Lat: 17.4966, Lon: 78.3660, UpdatedAt: t0,
			Status: tracking.StatusArrived, LocationSource: tracking.SourceDriver,
			LocationAccuracy: &acc, LastArrivalTime: &arrived,
		}
		if err := s.SaveBusState(ctx, st); err != nil {
			t.Fatalf("SaveBusState: %v", err)
		}
		got, err := s.GetBusState(ctx, "S1/A")
		if err != nil {
			t.Fatalf("GetBusState: %v", err)
		}
		if got.StopIndex != 3 || got.Status != tracking.StatusArrived || got.LocationSource != tracking.SourceDriver {
			t.Fatalf("GetBusState = %+v", got)
		}
		if got.LocationAccuracy == nil || *got.LocationAccuracy != 12.5 {
			t.Fatalf("accuracy = %v", got.LocationAccuracy)
		}
		if got.LastArrivalTime == nil || !got.LastArrivalTime.Equal(arrived) || got.LastDepartureTime != nil {
			t.Fatalf("clock fields = %v / %v", got.LastArrivalTime, got.LastDepartureTime)
		}
		if !got.UpdatedAt.Equal(t0) {
			t.Fatalf("UpdatedAt = %v, want %v", got.UpdatedAt, t0)
		}

		st.Status = tracking.StatusDeparting
		st.LocationAccuracy = nil
		if err := s.SaveBusState(ctx, st); err != nil {
			t.Fatalf("SaveBusState update: %v", err)
		}
		got, _ = s.GetBusState(ctx, "S1/A")
		if got.Status != tracking.StatusDeparting || got.LocationAccuracy != nil {
			t.Fatalf("update not applied: %+v", got)
		}
		all, err := s.ListBusStates(ctx)
		if err != nil || len(all) != 1 {
			t.Fatalf("ListBusStates = %v, %v", all, err)
		}
	})

	t.Run("reports replace per user", func(t *testing.T) {
		r := tracking.Report{BusID: "S1/A", UserID: "stu1", Role: tracking.RoleStudent, Lat: 17.49, Lon: 78.33, Accuracy: 8, Timestamp: t0.Add(-40 * time.Second)}
		if err := s.ApplyReport(ctx, r, nil); err != nil {
			t.Fatalf("ApplyReport: %v", err)
		}
		r.Lat, r.Timestamp = 17.50, t0.Add(-5*time.Second)
		if err := s.ApplyReport(ctx, r, nil); err != nil {
			t.Fatalf("ApplyReport replace: %v", err)
		}
		d := tracking.Report{BusID: "S1/A", UserID: "drv1", Role: tracking.RoleDriver, Lat: 17.51, Lon: 78.33, Accuracy: 4, Timestamp: t0.Add(-time.Second)}
		next := tracking.BusState{BusID: "S1/A", StopIndex: 4, Lat: 17.51, Lon: 78.33, UpdatedAt: t0, Status: tracking.StatusDeparting, LocationSource: tracking.SourceDriver}
		if err := s.ApplyReport(ctx, d, &next); err != nil {
			t.Fatalf("ApplyReport with state: %v", err)
		}

		got, err := s.RecentLocations(ctx, "S1/A", t0.Add(-30*time.Second))
		if err != nil {
			t.Fatalf("RecentLocations: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("RecentLocations = %d reports, want 2", len(got))
		}
		if got[0].UserID != "drv1" || got[1].UserID != "stu1" || got[1].Lat != 17.50 {
			t.Fatalf("RecentLocations order/content = %+v", got)
		}
		if old, _ := s.RecentLocations(ctx, "S1/A", t0.Add(-3*time.Second)); len(old) != 1 {
			t.Fatalf("window filter returned %d reports, want 1", len(old))
		}
		st, _ := s.GetBusState(ctx, "S1/A")
		if st.StopIndex != 4 {
			t.Fatalf("bus state not written with report: %+v", st)
		}
	})

	t.Run("confirmations and reset", func(t *testing.T) {
		for i, user := range []string{"a", "b", "a"} {
			c := tracking.Confirmation{ID: "c" + string(rune('0'+i)), BusID: "S1/A", StopID: 5, Role: tracking.RoleStudent, UserID: user, Timestamp: t0}
			if err := s.AddConfirmation(ctx, c); err != nil {
				t.Fatalf("AddConfirmation: %v", err)
			}
		}
		if n, _ := s.CountConfirmations(ctx, "S1/A", 5); n != 3 {
			t.Fatalf("CountConfirmations = %d, want 3", n)
		}
		if n, _ := s.CountConfirmations(ctx, "S1/A", 6); n != 0 {
			t.Fatalf("CountConfirmations(other stop) = %d, want 0", n)
		}
		if ok, _ := s.HasConfirmed(ctx, "S1/A", 5, "b"); !ok {
			t.Fatal("HasConfirmed(b) = false")
		}
		if ok, _ := s.HasConfirmed(ctx, "S1/A", 5, "z"); ok {
			t.Fatal("HasConfirmed(z) = true")
		}

		reset := tracking.BusState{BusID: "S1/A", StopIndex: 0, Lat: 17.49, Lon: 78.33, UpdatedAt: t0}
		if err := s.ResetBus(ctx, reset); err != nil {
			t.Fatalf("ResetBus: %v", err)
		}
		if n, _ := s.CountConfirmations(ctx, "S1/A", 5); n != 0 {
			t.Fatalf("confirmations after reset = %d", n)
		}
		st, _ := s.GetBusState(ctx, "S1/A")
		if st.StopIndex != 0 || st.Status != tracking.StatusNone {
			t.Fatalf("state after reset = %+v", st)
		}
	})

	t.Run("cluster cache", func(t *testing.T) {
		clusters := []tracking.Cluster{
			{CenterLat: 17.49, CenterLon: 78.33, Radius: 4, Source: tracking.ClusterStudents, IsMajority: true, Members: make([]tracking.Report, 3)},
			{CenterLat: 17.50, CenterLon: 78.34, Radius: 2, Source: tracking.ClusterStudents, Members: make([]tracking.Report, 2)},
		}
		if err := s.SaveClusters(ctx, "S1/A", clusters, 5, t0); err != nil {
			t.Fatalf("SaveClusters: %v", err)
		}
		if err := s.SaveClusters(ctx, "S1/A", clusters[:1], 3, t0); err != nil {
			t.Fatalf("SaveClusters rewrite: %v", err)
		}
		if n, _ := s.CachedClusterCount(ctx, "S1/A"); n != 1 {
			t.Fatalf("cached clusters = %d, want 1", n)
		}
	})
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	if got := Rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := `SELECT a FROM t WHERE x = $1 AND y = $2`
	if got := Rebind(DriverPostgres, q); got != want {
		t.Fatalf("Rebind = %s, want %s", got, want)
	}
}

func TestSQLiteDSN(t *testing.T) {
	if _, err := SQLiteDSN(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
	dsn, err := SQLiteDSN("data/tracker.db")
	if err != nil {
		t.Fatal(err)
	}
	if want := "file:data/tracker.db?_pragma="; len(dsn) < len(want) || dsn[:len(want)] != want {
		t.Fatalf("SQLiteDSN = %s", dsn)
	}
}
