package handlers

import (
	"net/http"
	"strconv"

	"shuttle-tracker/internal/api/dto"
)

// Arrived advances the bus one stop on the driver's word. The body must be
// {"action": "arrived"}.
func (h *BusHandler) Arrived(w http.ResponseWriter, r *http.Request) {
	busID, id, ok := caller(w, r)
	if !ok {
		return
	}
	var req dto.ManualArrivedRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid action", nil)
		return
	}
	v, err := h.Tracker.ManualAdvance(r.Context(), id, busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stateResponse(v))
}

func (h *BusHandler) Departed(w http.ResponseWriter, r *http.Request) {
	busID, id, ok := caller(w, r)
	if !ok {
		return
	}
	v, err := h.Tracker.ManualDeparted(r.Context(), id, busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stateResponse(v))
}

func (h *BusHandler) Reset(w http.ResponseWriter, r *http.Request) {
	busID, id, ok := caller(w, r)
	if !ok {
		return
	}
	v, err := h.Tracker.ManualReset(r.Context(), id, busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stateResponse(v))
}

func (h *BusHandler) GetSharing(w http.ResponseWriter, r *http.Request) {
	busID, err := busIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	on, err := h.Tracker.StudentSharing(r.Context(), busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.SharingResponse{BusID: busID, Enabled: on})
}

func (h *BusHandler) SetSharing(w http.ResponseWriter, r *http.Request) {
	busID, id, ok := caller(w, r)
	if !ok {
		return
	}
	var req dto.SharingRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	on, err := h.Tracker.ToggleStudentSharing(r.Context(), id, busID, *req.Enabled)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.SharingResponse{BusID: busID, Enabled: on})
}

// Confirm records a student's arrival confirmation for the current stop.
func (h *BusHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	busID, id, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.Tracker.ConfirmArrival(r.Context(), id, busID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.ConfirmResponse{
		BusID:         busID,
		StopID:        res.Stop.ID,
		StopName:      res.Stop.Name,
		Confirmations: res.Count,
		Quorum:        res.Quorum,
		Duplicate:     res.Duplicate,
		GPSActive:     res.GPSActive,
		Moved:         res.Moved,
		State:         stateResponse(res.State),
	})
}

func (h *BusHandler) Confirmations(w http.ResponseWriter, r *http.Request) {
	busID, err := busIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	stopID, err := strconv.Atoi(r.URL.Query().Get("stop_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "stop_id must be an integer", nil)
		return
	}
	n, err := h.Tracker.Confirmations(r.Context(), busID, stopID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.ConfirmationsResponse{BusID: busID, StopID: stopID, Confirmations: n})
}
