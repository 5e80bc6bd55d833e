package tracking

import "time"

type Role string

const (
	RoleDriver  Role = "driver"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool { return r == RoleDriver || r == RoleStudent }

// Status is the bus status relative to its current stop. The zero value
// means no status (freshly reset or manually advanced).
type Status string

const (
	StatusNone      Status = ""
	StatusArrived   Status = "arrived"
	StatusDeparting Status = "departing"
)

// Source names what last set the bus position.
type Source string

const (
	SourceNone         Source = ""
	SourceDriver       Source = "driver"
	SourceStudent      Source = "student"
	SourceManual       Source = "manual"
	SourceConfirmation Source = "confirmation"
)

type Stop struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Sequence int     `json:"sequence"`
}

type BusState struct {
	BusID             string
	StopIndex         int
	Lat               float64
	Lon               float64
	UpdatedAt         time.Time
	Status            Status
	LocationSource    Source
	LocationAccuracy  *float64 // meters; nil when the position is not from a GPS fix
	LastArrivalTime   *time.Time
	LastDepartureTime *time.Time
}

// Report is the single live position report of one user on one bus.
type Report struct {
	BusID     string
	UserID    string
	Role      Role
	Lat       float64
	Lon       float64
	Accuracy  float64 // meters, > 0
	Timestamp time.Time
}

type ClusterSource string

const (
	ClusterDriver   ClusterSource = "driver"
	ClusterStudents ClusterSource = "students"
)

type Cluster struct {
	CenterLat  float64
	CenterLon  float64
	Radius     float64 // max member distance from the centre
	Members    []Report
	Source     ClusterSource
	IsMajority bool
}

type Confirmation struct {
	ID        string
	BusID     string
	StopID    int
	Role      Role
	UserID    string
	Timestamp time.Time
}

// Identity is the caller resolved by the auth layer. BusID is empty for
// users not assigned to a bus.
type Identity struct {
	UserID string
	Role   Role
	BusID  string
}

type EventKind string

const (
	EventPosition EventKind = "position"
	EventArrived  EventKind = "arrived"
	EventDeparted EventKind = "departed"
	EventAdvanced EventKind = "advanced"
	EventReset    EventKind = "reset"
)

// StateEvent is emitted after a bus state mutation has been committed.
type StateEvent struct {
	Kind  EventKind
	BusID string
	State BusState
	Stop  Stop
	At    time.Time
}
