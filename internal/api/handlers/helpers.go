package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"shuttle-tracker/internal/api/dto"
	"shuttle-tracker/internal/auth"
	"shuttle-tracker/internal/fusion"
	"shuttle-tracker/internal/obs"
	"shuttle-tracker/internal/tracking"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode failed: req_id=%s method=%s path=%s err=%v", obs.RequestID(r.Context()), r.Method, r.URL.Path, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, details map[string]any) {
	writeJSON(w, r, status, dto.ErrorResponse{Error: msg, Details: details})
}

// writeDomainError maps a tracking error kind to its HTTP status.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var te *tracking.Error
	if !errors.As(err, &te) || te.Kind == tracking.KindInternal {
		log.Printf("req_id=%s method=%s path=%s internal error: %v", obs.RequestID(r.Context()), r.Method, r.URL.Path, err)
		writeError(w, r, http.StatusInternalServerError, "internal server error", nil)
		return
	}
	switch te.Kind {
	case tracking.KindValidation:
		writeError(w, r, http.StatusBadRequest, te.Msg, nil)
	case tracking.KindAuthorization:
		writeError(w, r, http.StatusForbidden, te.Msg, nil)
	case tracking.KindNotFound:
		writeError(w, r, http.StatusNotFound, te.Msg, nil)
	case tracking.KindRateLimited:
		secs := int(math.Ceil(te.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, r, http.StatusTooManyRequests, te.Msg, map[string]any{"retry_after_ms": te.RetryAfter.Milliseconds()})
	case tracking.KindConflict:
		writeError(w, r, http.StatusConflict, te.Msg, map[string]any{"active_source": string(te.Source)})
	}
}

// Unauthorized is the auth middleware's deny handler.
func Unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusUnauthorized, "authentication required", nil)
}

// decodeJSON reads exactly one JSON object into dst and validates it. An
// empty body is accepted when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return errors.New("invalid json body")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain only one JSON object")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}

// busIDParam returns the unescaped bus id path segment, so "S1%2FA"
// addresses bus "S1/A".
func busIDParam(r *http.Request) (string, error) {
	id, err := url.PathUnescape(chi.URLParam(r, "busID"))
	if err != nil || strings.TrimSpace(id) == "" {
		return "", errors.New("invalid bus id")
	}
	return id, nil
}

// caller returns the bus id and the authenticated identity, writing the
// error response itself when either is missing.
func caller(w http.ResponseWriter, r *http.Request) (string, tracking.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		Unauthorized(w, r, auth.ErrNoToken)
		return "", tracking.Identity{}, false
	}
	busID, err := busIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return "", tracking.Identity{}, false
	}
	return busID, id, true
}

func optString[T ~string](v T) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}

func stopResponse(s tracking.Stop) dto.StopResponse {
	return dto.StopResponse{ID: s.ID, Name: s.Name, Lat: s.Lat, Lon: s.Lon, Sequence: s.Sequence}
}

func stateResponse(v fusion.View) dto.BusStateResponse {
	return dto.BusStateResponse{
		BusID:             v.BusID,
		StopIndex:         v.StopIndex,
		StopID:            v.Stop.ID,
		StopName:          v.Stop.Name,
		Lat:               v.Lat,
		Lon:               v.Lon,
		Status:            optString(v.Status),
		LocationSource:    optString(v.LocationSource),
		LocationAccuracy:  v.LocationAccuracy,
		UpdatedAt:         v.UpdatedAt.UTC(),
		LastArrivalTime:   utcPtr(v.LastArrivalTime),
		LastDepartureTime: utcPtr(v.LastDepartureTime),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
