package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	DBDriver    string
	SQLitePath  string
	DatabaseURL string
	DBTimeout   time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	Location          *time.Location

	BusIDs      []string
	StopsFile   string
	UsersFile   string
	CORSOrigins []string

	StalenessWindow   time.Duration
	ActiveWindow      time.Duration
	ArrivalRadius     float64
	ClusterRadius     float64
	ClusterMinPoints  int
	MinReportInterval time.Duration

	ConfirmQuorum         int
	ConfirmDedupe         bool
	StudentSharingDefault bool
	FuseStudentClusters   bool
	ResetOnStart          bool
	DailyReset            bool
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", "")
	if cfg.HTTPAddr == "" {
		if p := os.Getenv("PORT"); p != "" {
			cfg.HTTPAddr = ":" + p
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	cfg.DBDriver = strings.ToLower(getenvDefault("DB_DRIVER", "sqlite"))
	switch cfg.DBDriver {
	case "sqlite":
		cfg.SQLitePath = getenvDefault("SQLITE_PATH", "tracker.db")
	case "pgx", "postgres":
		cfg.DBDriver = "pgx"
		dsn, err := postgresDSN()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER: %q", cfg.DBDriver)
	}

	var err error
	if cfg.DBTimeout, err = millis("DB_TIMEOUT_MS", 3000, false); err != nil {
		return nil, err
	}

	// Empty NATS_URL disables event publishing
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = strings.Trim(getenvDefault("NATS_SUBJECT_PREFIX", "shuttle"), ".")
	cfg.LogNATSSubjects = boolEnv("LOG_NATS_SUBJECTS", false)

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone for the daily reset
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	cfg.BusIDs = splitList(getenvDefault("BUS_IDS", "S1/A"))
	if len(cfg.BusIDs) == 0 {
		return nil, errors.New("BUS_IDS must name at least one bus")
	}
	cfg.StopsFile = os.Getenv("STOPS_FILE")
	cfg.UsersFile = getenvDefault("USERS_FILE", "users.yml")
	cfg.CORSOrigins = splitList(getenvDefault("CORS_ORIGINS", "*"))

	if cfg.StalenessWindow, err = seconds("STALENESS_WINDOW_SEC", 30); err != nil {
		return nil, err
	}
	if cfg.ActiveWindow, err = seconds("ACTIVE_WINDOW_SEC", 60); err != nil {
		return nil, err
	}
	if cfg.ArrivalRadius, err = meters("ARRIVAL_RADIUS_M", 50); err != nil {
		return nil, err
	}
	if cfg.ClusterRadius, err = meters("CLUSTER_RADIUS_M", 80); err != nil {
		return nil, err
	}
	if cfg.ClusterMinPoints, err = positiveInt("CLUSTER_MIN_POINTS", 2); err != nil {
		return nil, err
	}
	if cfg.MinReportInterval, err = millis("MIN_REPORT_INTERVAL_MS", 1000, true); err != nil {
		return nil, err
	}
	if cfg.ConfirmQuorum, err = positiveInt("CONFIRM_QUORUM", 1); err != nil {
		return nil, err
	}

	cfg.ConfirmDedupe = boolEnv("CONFIRM_DEDUPE", true)
	cfg.StudentSharingDefault = boolEnv("STUDENT_SHARING_DEFAULT", false)
	cfg.FuseStudentClusters = boolEnv("FUSE_STUDENT_CLUSTERS", true)
	cfg.ResetOnStart = boolEnv("RESET_ON_START", true)
	cfg.DailyReset = boolEnv("DAILY_RESET", true)

	return cfg, nil
}

// postgresDSN prefers DATABASE_URL / PG_DSN, else builds from PG* vars.
func postgresDSN() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set when DB_DRIVER=pgx")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func seconds(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func millis(key string, def int, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Millisecond, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 || (ms == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func meters(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
