package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/donation-scheduling/internal/appointment"
	"github.com/hackgods/donation-scheduling/internal/eligibility"
)

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		centerID, err := uuid.Parse(req.CenterID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_center_id", "center_id must be a valid UUID")
			return
		}

		scheduledAt, err := parseTime("scheduled_at", req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_at", err.Error())
			return
		}

		staffID, err := parseOptionalUUID("staff_id", req.StaffID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", err.Error())
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.CreateInput{
			DonorHash:    req.DonorHash,
			CenterID:     centerID,
			ScheduledAt:  scheduledAt,
			DonationType: eligibility.DonationType(req.DonationType),
			StaffID:      staffID,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func updateAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var changes appointment.Changes
		if req.ScheduledAt != nil {
			t, err := parseTime("scheduled_at", *req.ScheduledAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_scheduled_at", err.Error())
				return
			}
			changes.ScheduledAt = &t
		}
		if req.DonationType != nil {
			typ := eligibility.DonationType(*req.DonationType)
			changes.DonationType = &typ
		}
		centerID, err := parseOptionalUUID("center_id", req.CenterID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_center_id", err.Error())
			return
		}
		changes.CenterID = centerID
		staffID, err := parseOptionalUUID("staff_id", req.StaffID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", err.Error())
			return
		}
		changes.StaffID = staffID

		appt, err := svc.UpdateAppointment(r.Context(), id, changes)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func updateStatusHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateAppointmentStatus(r.Context(), id, req.Status)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseListFilter(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		appts, err := svc.ListAppointments(r.Context(), filter)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := ListAppointmentsResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Limit:        filter.Limit,
			Offset:       filter.Offset,
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func appointmentStatsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseListFilter(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		stats, err := svc.AppointmentStats(r.Context(), filter)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, stats)
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseTime(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp", field)
	}
	return t, nil
}

func parseOptionalUUID(field string, raw *string) (*uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a valid UUID", field)
	}
	return &id, nil
}

func parseListFilter(q url.Values) (appointment.ListFilter, error) {
	var f appointment.ListFilter

	if v := q.Get("center_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("center_id must be a valid UUID")
		}
		f.CenterID = &id
	}
	f.DonorHash = q.Get("donor_hash")
	if v := q.Get("status"); v != "" {
		status := appointment.AppointmentStatus(v)
		f.Status = &status
	}
	if v := q.Get("from"); v != "" {
		t, err := parseTime("from", v)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseTime("to", v)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("limit must be an integer")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("offset must be an integer")
		}
		f.Offset = n
	}

	return f, nil
}

// handleServiceError maps the appointment error taxonomy onto HTTP. Anything
// outside it is an infrastructure failure and is reported without detail.
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		vErr *appointment.ValidationError
		nErr *appointment.NotFoundError
		eErr *appointment.EligibilityViolation
		cErr *appointment.CapacityConflict
		iErr *appointment.InactiveDonorError
	)

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation_error", vErr.Error())
	case errors.As(err, &nErr):
		writeError(w, http.StatusNotFound, nErr.Resource+"_not_found", nErr.Error())
	case errors.As(err, &eErr):
		res := eErr.Result
		writeErrorResponse(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "eligibility_violation",
			Details: res.Reason,
			Eligibility: &EligibilityResponse{
				Violation:         string(res.Violation),
				DonationType:      string(res.DonationType),
				MinGapDays:        res.MinGapDays,
				DaysElapsed:       res.DaysElapsed,
				AnnualCap:         res.AnnualCap,
				CapUnit:           res.CapUnit,
				DonationsThisYear: res.DonationsThisYear,
			},
		})
	case errors.As(err, &iErr):
		writeError(w, http.StatusUnprocessableEntity, "donor_inactive", iErr.Error())
	case errors.As(err, &cErr):
		writeErrorResponse(w, http.StatusConflict, ErrorResponse{
			Error:    "capacity_exceeded",
			Details:  cErr.Error(),
			Capacity: &CapacityResponse{Occupied: cErr.Occupied, Capacity: cErr.Capacity},
		})
	case errors.Is(err, appointment.ErrCenterBusy):
		writeError(w, http.StatusConflict, "center_busy", "center is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeErrorResponse(w, status, ErrorResponse{Error: code, Details: details})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
