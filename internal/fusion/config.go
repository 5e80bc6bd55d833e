package fusion

import (
	"context"
	"time"

	"shuttle-tracker/internal/cluster"
	"shuttle-tracker/internal/tracking"
)

type Config struct {
	// StalenessWindow bounds GPS authority for both roles and the reports
	// fed to clustering.
	StalenessWindow time.Duration
	// ActiveWindow bounds reports shown by ActiveLocations.
	ActiveWindow      time.Duration
	ArrivalRadius     float64 // meters
	MinReportInterval time.Duration

	Quorum              int
	DedupeConfirmations bool

	StudentSharingDefault bool
	FuseStudentClusters   bool
	ResetOnStart          bool

	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		StalenessWindow:       30 * time.Second,
		ActiveWindow:          60 * time.Second,
		ArrivalRadius:         50,
		MinReportInterval:     time.Second,
		Quorum:                1,
		DedupeConfirmations:   true,
		StudentSharingDefault: false,
		FuseStudentClusters:   true,
		ResetOnStart:          true,
		StoreTimeout:          3 * time.Second,
	}
}

// Store is the persistence the engine needs. Implementations must make
// ApplyReport and ResetBus atomic.
type Store interface {
	ReplaceStops(ctx context.Context, list []tracking.Stop) error
	GetBusState(ctx context.Context, busID string) (tracking.BusState, error)
	SaveBusState(ctx context.Context, st tracking.BusState) error
	ApplyReport(ctx context.Context, r tracking.Report, next *tracking.BusState) error
	RecentLocations(ctx context.Context, busID string, since time.Time) ([]tracking.Report, error)
	AddConfirmation(ctx context.Context, c tracking.Confirmation) error
	CountConfirmations(ctx context.Context, busID string, stopID int) (int, error)
	HasConfirmed(ctx context.Context, busID string, stopID int, userID string) (bool, error)
	ResetBus(ctx context.Context, st tracking.BusState) error
	SaveClusters(ctx context.Context, busID string, clusters []tracking.Cluster, total int, at time.Time) error
}

type Publisher interface {
	PublishEvent(ev tracking.StateEvent) error
}

type Metrics interface {
	ReportAccepted(role tracking.Role, authoritative bool)
	ReportRejected(reason string)
	Transition(kind tracking.EventKind)
	ConfirmationRecorded(duplicate bool)
	ClustersObserved(busID string, n int)
	ResetPerformed(trigger string)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClusterEngine(c *cluster.Engine) Option {
	return func(e *Engine) { e.clusters = c }
}

func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

type nopMetrics struct{}

func (nopMetrics) ReportAccepted(tracking.Role, bool) {}
func (nopMetrics) ReportRejected(string)              {}
func (nopMetrics) Transition(tracking.EventKind)      {}
func (nopMetrics) ConfirmationRecorded(bool)          {}
func (nopMetrics) ClustersObserved(string, int)       {}
func (nopMetrics) ResetPerformed(string)              {}
