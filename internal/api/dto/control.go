package dto

type ManualArrivedRequest struct {
	Action string `json:"action" validate:"required,eq=arrived"`
}

type SharingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SharingResponse struct {
	BusID   string `json:"bus_id"`
	Enabled bool   `json:"enabled"`
}

type ConfirmResponse struct {
	BusID         string           `json:"bus_id"`
	StopID        int              `json:"stop_id"`
	StopName      string           `json:"stop_name"`
	Confirmations int              `json:"confirmations"`
	Quorum        int              `json:"quorum"`
	Duplicate     bool             `json:"duplicate"`
	GPSActive     bool             `json:"gps_active"`
	Moved         bool             `json:"moved"`
	State         BusStateResponse `json:"state"`
}

type ConfirmationsResponse struct {
	BusID         string `json:"bus_id"`
	StopID        int    `json:"stop_id"`
	Confirmations int    `json:"confirmations"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}
