package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shuttle-tracker/internal/obs"
	"shuttle-tracker/internal/tracking"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// single writer; WAL keeps readers cheap
		db.SetMaxOpenConns(1)
		return db, nil
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Store persists stops, bus state, location reports, confirmations and
// the cluster cache in sqlite or PostgreSQL.
type Store struct {
	db     *sql.DB
	driver string
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) q(query string) string { return Rebind(s.driver, query) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ReplaceStops(ctx context.Context, list []tracking.Stop) (err error) {
	defer obs.Time(ctx, "db.ReplaceStops")(&err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace stops: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stops`); err != nil {
		return fmt.Errorf("replace stops: delete: %w", err)
	}
	ins := s.q(`INSERT INTO stops (id, name, lat, lon, seq) VALUES (?, ?, ?, ?, ?)`)
	for _, st := range list {
		if _, err := tx.ExecContext(ctx, ins, st.ID, st.Name, st.Lat, st.Lon, st.Sequence); err != nil {
			return fmt.Errorf("replace stops: insert %d: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListStops(ctx context.Context) ([]tracking.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, lat, lon, seq FROM stops ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list stops: %w", err)
	}
	defer rows.Close()

	var out []tracking.Stop
	for rows.Next() {
		var st tracking.Stop
		if err := rows.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &st.Sequence); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

const busStateColumns = `bus_id, stop_index, lat, lon, updated_at, status, location_source, location_accuracy, last_arrival_at, last_departure_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBusState(row rowScanner) (tracking.BusState, error) {
	var (
		st                tracking.BusState
		updated           int64
		status, source    string
		accuracy          sql.NullFloat64
		arrived, departed sql.NullInt64
	)
	if err := row.Scan(&st.BusID, &st.StopIndex, &st.Lat, &st.Lon, &updated, &status, &source, &accuracy, &arrived, &departed); err != nil {
		return tracking.BusState{}, err
	}
	st.UpdatedAt = fromMillis(updated)
	st.Status = tracking.Status(status)
	st.LocationSource = tracking.Source(source)
	if accuracy.Valid {
		v := accuracy.Float64
		st.LocationAccuracy = &v
	}
	st.LastArrivalTime = nullTime(arrived)
	st.LastDepartureTime = nullTime(departed)
	return st, nil
}

func (s *Store) GetBusState(ctx context.Context, busID string) (st tracking.BusState, err error) {
	defer obs.Time(ctx, "db.GetBusState")(&err)

	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+busStateColumns+` FROM bus_state WHERE bus_id = ?`), busID)
	st, err = scanBusState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.BusState{}, fmt.Errorf("bus %q: %w", busID, tracking.ErrNotFound)
	}
	if err != nil {
		return tracking.BusState{}, fmt.Errorf("get bus state: %w", err)
	}
	return st, nil
}

func (s *Store) ListBusStates(ctx context.Context) ([]tracking.BusState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+busStateColumns+` FROM bus_state ORDER BY bus_id`)
	if err != nil {
		return nil, fmt.Errorf("list bus states: %w", err)
	}
	defer rows.Close()

	var out []tracking.BusState
	for rows.Next() {
		st, err := scanBusState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) saveBusState(ctx context.Context, ex execer, st tracking.BusState) error {
	q := s.q(`INSERT INTO bus_state (` + busStateColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (bus_id) DO UPDATE SET
	stop_index = excluded.stop_index,
	lat = excluded.lat,
	lon = excluded.lon,
	updated_at = excluded.updated_at,
	status = excluded.status,
	location_source = excluded.location_source,
	location_accuracy = excluded.location_accuracy,
	last_arrival_at = excluded.last_arrival_at,
	last_departure_at = excluded.last_departure_at`)

	var accuracy sql.NullFloat64
	if st.LocationAccuracy != nil {
		accuracy = sql.NullFloat64{Float64: *st.LocationAccuracy, Valid: true}
	}
	_, err := ex.ExecContext(ctx, q,
		st.BusID, st.StopIndex, st.Lat, st.Lon, toMillis(st.UpdatedAt),
		string(st.Status), string(st.LocationSource), accuracy,
		nullMillis(st.LastArrivalTime), nullMillis(st.LastDepartureTime),
	)
	if err != nil {
		return fmt.Errorf("save bus state %q: %w", st.BusID, err)
	}
	return nil
}

func (s *Store) SaveBusState(ctx context.Context, st tracking.BusState) (err error) {
	defer obs.Time(ctx, "db.SaveBusState")(&err)
	return s.saveBusState(ctx, s.db, st)
}

// ApplyReport upserts the user's live report and, when next is non-nil,
// the bus state in one transaction.
func (s *Store) ApplyReport(ctx context.Context, r tracking.Report, next *tracking.BusState) (err error) {
	defer obs.Time(ctx, "db.ApplyReport")(&err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply report: begin: %w", err)
	}
	defer tx.Rollback()

	q := s.q(`INSERT INTO user_locations (bus_id, user_id, role, lat, lon, accuracy, reported_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (bus_id, user_id) DO UPDATE SET
	role = excluded.role,
	lat = excluded.lat,
	lon = excluded.lon,
	accuracy = excluded.accuracy,
	reported_at = excluded.reported_at`)
	if _, err := tx.ExecContext(ctx, q, r.BusID, r.UserID, string(r.Role), r.Lat, r.Lon, r.Accuracy, toMillis(r.Timestamp)); err != nil {
		return fmt.Errorf("apply report: upsert location: %w", err)
	}
	if next != nil {
		if err := s.saveBusState(ctx, tx, *next); err != nil {
			return fmt.Errorf("apply report: %w", err)
		}
	}
	return tx.Commit()
}

// RecentLocations returns reports newer than since, newest first.
func (s *Store) RecentLocations(ctx context.Context, busID string, since time.Time) (out []tracking.Report, err error) {
	defer obs.Time(ctx, "db.RecentLocations")(&err)

	q := s.q(`SELECT bus_id, user_id, role, lat, lon, accuracy, reported_at
FROM user_locations
WHERE bus_id = ? AND reported_at > ?
ORDER BY reported_at DESC, user_id`)
	rows, err := s.db.QueryContext(ctx, q, busID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("recent locations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r    tracking.Report
			role string
			ts   int64
		)
		if err := rows.Scan(&r.BusID, &r.UserID, &role, &r.Lat, &r.Lon, &r.Accuracy, &ts); err != nil {
			return nil, err
		}
		r.Role = tracking.Role(role)
		r.Timestamp = fromMillis(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddConfirmation(ctx context.Context, c tracking.Confirmation) (err error) {
	defer obs.Time(ctx, "db.AddConfirmation")(&err)

	q := s.q(`INSERT INTO confirmations (id, bus_id, stop_id, role, user_id, confirmed_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.BusID, c.StopID, string(c.Role), c.UserID, toMillis(c.Timestamp)); err != nil {
		return fmt.Errorf("add confirmation: %w", err)
	}
	return nil
}

func (s *Store) CountConfirmations(ctx context.Context, busID string, stopID int) (n int, err error) {
	defer obs.Time(ctx, "db.CountConfirmations")(&err)

	q := s.q(`SELECT COUNT(*) FROM confirmations WHERE bus_id = ? AND stop_id = ?`)
	if err := s.db.QueryRowContext(ctx, q, busID, stopID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count confirmations: %w", err)
	}
	return n, nil
}

func (s *Store) HasConfirmed(ctx context.Context, busID string, stopID int, userID string) (ok bool, err error) {
	defer obs.Time(ctx, "db.HasConfirmed")(&err)

	var n int
	q := s.q(`SELECT COUNT(*) FROM confirmations WHERE bus_id = ? AND stop_id = ? AND user_id = ?`)
	if err := s.db.QueryRowContext(ctx, q, busID, stopID, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("has confirmed: %w", err)
	}
	return n > 0, nil
}

// ResetBus stores the reset state and drops the bus's confirmations in one
// transaction.
func (s *Store) ResetBus(ctx context.Context, st tracking.BusState) (err error) {
	defer obs.Time(ctx, "db.ResetBus")(&err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset bus: begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.saveBusState(ctx, tx, st); err != nil {
		return fmt.Errorf("reset bus: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM confirmations WHERE bus_id = ?`), st.BusID); err != nil {
		return fmt.Errorf("reset bus: clear confirmations: %w", err)
	}
	return tx.Commit()
}

// SaveClusters replaces the cached clusters for a bus.
func (s *Store) SaveClusters(ctx context.Context, busID string, clusters []tracking.Cluster, total int, at time.Time) (err error) {
	defer obs.Time(ctx, "db.SaveClusters")(&err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save clusters: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM location_clusters WHERE bus_id = ?`), busID); err != nil {
		return fmt.Errorf("save clusters: delete: %w", err)
	}
	ins := s.q(`INSERT INTO location_clusters
(bus_id, ordinal, lat, lon, radius, point_count, total_points, source, is_majority, computed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, c := range clusters {
		majority := 0
		if c.IsMajority {
			majority = 1
		}
		if _, err := tx.ExecContext(ctx, ins, busID, i, c.CenterLat, c.CenterLon, c.Radius, len(c.Members), total, string(c.Source), majority, toMillis(at)); err != nil {
			return fmt.Errorf("save clusters: insert: %w", err)
		}
	}
	return tx.Commit()
}

// CachedClusterCount returns the number of cached clusters for a bus.
func (s *Store) CachedClusterCount(ctx context.Context, busID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM location_clusters WHERE bus_id = ?`), busID).Scan(&n)
	return n, err
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
