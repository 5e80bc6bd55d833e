package dto

import "time"

type StopResponse struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Sequence int     `json:"sequence"`
}

type BusStateResponse struct {
	BusID             string     `json:"bus_id"`
	StopIndex         int        `json:"stop_index"`
	StopID            int        `json:"stop_id"`
	StopName          string     `json:"stop_name"`
	Lat               float64    `json:"lat"`
	Lon               float64    `json:"lon"`
	Status            *string    `json:"status"`
	LocationSource    *string    `json:"location_source"`
	LocationAccuracy  *float64   `json:"location_accuracy"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastArrivalTime   *time.Time `json:"last_arrival_time"`
	LastDepartureTime *time.Time `json:"last_departure_time"`
}

type ListBusResponse struct {
	Buses []BusStateResponse `json:"buses"`
}

type LocationRequest struct {
	Lat      *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon      *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,gt=0"`
}

type LocationResponse struct {
	State         BusStateResponse `json:"state"`
	UserType      string           `json:"user_type"`
	Accuracy      float64          `json:"accuracy"`
	Authoritative bool             `json:"authoritative"`
	Source        *string          `json:"location_source"`
	UpdatedBus    bool             `json:"updated_bus"`
	StopChanged   bool             `json:"stop_changed"`
}

type DriverLocationSummary struct {
	UserID     string    `json:"user_id"`
	LastUpdate time.Time `json:"last_update"`
	Accuracy   float64   `json:"accuracy"`
	Fresh      bool      `json:"fresh"`
}

type StudentLocationSummary struct {
	Count        int        `json:"count"`
	LastUpdate   *time.Time `json:"last_update"`
	MeanAccuracy float64    `json:"mean_accuracy"`
}

type ClusterResponse struct {
	CenterLat  float64  `json:"center_lat"`
	CenterLon  float64  `json:"center_lon"`
	Radius     float64  `json:"radius"`
	Size       int      `json:"size"`
	Source     string   `json:"source"`
	IsMajority bool     `json:"is_majority"`
	UserIDs    []string `json:"user_ids"`
}

type ActiveLocationsResponse struct {
	BusID        string                 `json:"bus_id"`
	ActiveUsers  int                    `json:"active_users"`
	LastUpdate   *time.Time             `json:"last_update"`
	Driver       *DriverLocationSummary `json:"driver"`
	Students     StudentLocationSummary `json:"students"`
	Clusters     []ClusterResponse      `json:"clusters"`
	TotalReports int                    `json:"total_reports"`
}

type GPSStatusResponse struct {
	BusID                  string     `json:"bus_id"`
	GPSActive              bool       `json:"gps_active"`
	Source                 *string    `json:"source"`
	LastUpdate             *time.Time `json:"last_update"`
	DriverActive           bool       `json:"driver_active"`
	DriverLastUpdate       *time.Time `json:"driver_last_update"`
	StudentActive          bool       `json:"student_active"`
	StudentLastUpdate      *time.Time `json:"student_last_update"`
	ManualControlAvailable bool       `json:"manual_control_available"`
}
