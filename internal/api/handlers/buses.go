package handlers

import (
	"context"
	"net/http"

	"shuttle-tracker/internal/api/dto"
	"shuttle-tracker/internal/fusion"
	"shuttle-tracker/internal/tracking"
)

// Tracker is the subset of the fusion engine the HTTP surface uses.
type Tracker interface {
	Stops() []tracking.Stop
	States(ctx context.Context) ([]fusion.View, error)
	BusState(ctx context.Context, busID string) (fusion.View, error)
	SubmitLocation(ctx context.Context, id tracking.Identity, busID string, lat, lon, accuracy float64) (fusion.SubmitResult, error)
	StopDriverSharing(ctx context.Context, id tracking.Identity, busID string) error
	ActiveLocations(ctx context.Context, busID string) (fusion.Summary, error)
	GPSStatus(ctx context.Context, busID string) (fusion.GPSStatus, error)
	ManualAdvance(ctx context.Context, id tracking.Identity, busID string) (fusion.View, error)
	ManualDeparted(ctx context.Context, id tracking.Identity, busID string) (fusion.View, error)
	ManualReset(ctx context.Context, id tracking.Identity, busID string) (fusion.View, error)
	ToggleStudentSharing(ctx context.Context, id tracking.Identity, busID string, enabled bool) (bool, error)
	StudentSharing(ctx context.Context, busID string) (bool, error)
	ConfirmArrival(ctx context.Context, id tracking.Identity, busID string) (fusion.ConfirmResult, error)
	Confirmations(ctx context.Context, busID string, stopID int) (int, error)
}

// DefaultAccuracy is used when a location report omits accuracy, in meters.
const DefaultAccuracy = 20.0

type BusHandler struct {
	Tracker Tracker
}

func (h *BusHandler) Stops(w http.ResponseWriter, r *http.Request) {
	list := h.Tracker.Stops()
	res := make([]dto.StopResponse, 0, len(list))
	for _, s := range list {
		res = append(res, stopResponse(s))
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *BusHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.Tracker.States(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	res := dto.ListBusResponse{Buses: make([]dto.BusStateResponse, 0, len(views))}
	for _, v := range views {
		res.Buses = append(res.Buses, stateResponse(v))
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *BusHandler) Get(w http.ResponseWriter, r *http.Request) {
	busID, err := busIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	v, err := h.Tracker.BusState(r.Context(), busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stateResponse(v))
}

// SubmitLocation accepts a driver or student position report.
func (h *BusHandler) SubmitLocation(w http.ResponseWriter, r *http.Request) {
	busID, id, ok := caller(w, r)
	if !ok {
		return
	}
	var req dto.LocationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	acc := DefaultAccuracy
	if req.Accuracy != nil {
		acc = *req.Accuracy
	}

	res, err := h.Tracker.SubmitLocation(r.Context(), id, busID, *req.Lat, *req.Lon, acc)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.LocationResponse{
		State:         stateResponse(res.State),
		UserType:      string(res.Role),
		Accuracy:      res.Accuracy,
		Authoritative: res.Authoritative,
		Source:        optString(res.Source),
		UpdatedBus:    res.Moved,
		StopChanged:   res.StopChanged,
	})
}

// StopSharing ends the driver's location sharing so manual control can
// take over immediately.
func (h *BusHandler) StopSharing(w http.ResponseWriter, r *http.Request) {
	busID, id, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.Tracker.StopDriverSharing(r.Context(), id, busID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BusHandler) ActiveLocations(w http.ResponseWriter, r *http.Request) {
	busID, err := busIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	sum, err := h.Tracker.ActiveLocations(r.Context(), busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	res := dto.ActiveLocationsResponse{
		BusID:       sum.BusID,
		ActiveUsers: sum.ActiveUsers,
		LastUpdate:  utcPtr(sum.LastUpdate),
		Students: dto.StudentLocationSummary{
			Count:        sum.Students.Count,
			LastUpdate:   utcPtr(sum.Students.LastUpdate),
			MeanAccuracy: sum.Students.MeanAccuracy,
		},
		Clusters:     make([]dto.ClusterResponse, 0, len(sum.Clusters)),
		TotalReports: sum.ClusterReports,
	}
	if d := sum.Driver; d != nil {
		res.Driver = &dto.DriverLocationSummary{UserID: d.UserID, LastUpdate: d.LastUpdate.UTC(), Accuracy: d.Accuracy, Fresh: d.Fresh}
	}
	for _, c := range sum.Clusters {
		cr := dto.ClusterResponse{
			CenterLat:  c.CenterLat,
			CenterLon:  c.CenterLon,
			Radius:     c.Radius,
			Size:       len(c.Members),
			Source:     string(c.Source),
			IsMajority: c.IsMajority,
			UserIDs:    make([]string, 0, len(c.Members)),
		}
		for _, m := range c.Members {
			cr.UserIDs = append(cr.UserIDs, m.UserID)
		}
		res.Clusters = append(res.Clusters, cr)
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *BusHandler) GPSStatus(w http.ResponseWriter, r *http.Request) {
	busID, err := busIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	st, err := h.Tracker.GPSStatus(r.Context(), busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.GPSStatusResponse{
		BusID:                  busID,
		GPSActive:              st.Active,
		Source:                 optString(st.Source),
		LastUpdate:             utcPtr(st.LastUpdate),
		DriverActive:           st.DriverActive,
		DriverLastUpdate:       utcPtr(st.DriverLastUpdate),
		StudentActive:          st.StudentActive,
		StudentLastUpdate:      utcPtr(st.StudentLastUpdate),
		ManualControlAvailable: !st.Active,
	})
}
