package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/donation-scheduling/internal/appointment"
	"github.com/hackgods/donation-scheduling/internal/eligibility"
	"github.com/hackgods/donation-scheduling/internal/requestctx"
)

type stubService struct {
	err error

	gotCtx     context.Context
	gotInput   appointment.CreateInput
	gotChanges appointment.Changes
	gotStatus  string
	gotFilter  appointment.ListFilter

	appt *appointment.Appointment
}

func (s *stubService) result() (*appointment.Appointment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.appt, nil
}

func (s *stubService) CreateAppointment(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error) {
	s.gotCtx, s.gotInput = ctx, in
	return s.result()
}

func (s *stubService) UpdateAppointment(ctx context.Context, id uuid.UUID, changes appointment.Changes) (*appointment.Appointment, error) {
	s.gotCtx, s.gotChanges = ctx, changes
	return s.result()
}

func (s *stubService) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) (*appointment.Appointment, error) {
	s.gotCtx, s.gotStatus = ctx, status
	return s.result()
}

func (s *stubService) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.gotCtx = ctx
	return s.result()
}

func (s *stubService) ListAppointments(ctx context.Context, filter appointment.ListFilter) ([]appointment.Appointment, error) {
	s.gotCtx, s.gotFilter = ctx, filter
	if s.err != nil {
		return nil, s.err
	}
	if s.appt == nil {
		return nil, nil
	}
	return []appointment.Appointment{*s.appt}, nil
}

func (s *stubService) AppointmentStats(ctx context.Context, filter appointment.ListFilter) (*appointment.Stats, error) {
	s.gotCtx, s.gotFilter = ctx, filter
	if s.err != nil {
		return nil, s.err
	}
	return &appointment.Stats{
		Total:          2,
		ByStatus:       map[appointment.AppointmentStatus]int{appointment.StatusScheduled: 2},
		ByDonationType: map[appointment.DonationType]int{eligibility.Plasma: 2},
	}, nil
}

func sampleAppointment() *appointment.Appointment {
	return &appointment.Appointment{
		ID:             uuid.New(),
		DonorHash:      "d-hash",
		CenterID:       uuid.New(),
		ScheduledAt:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		DonationType:   eligibility.WholeBlood,
		Status:         appointment.StatusScheduled,
		BookingChannel: "kiosk",
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateAppointmentHandler(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	router := NewRouter(RouterConfig{Service: svc})
	center := uuid.New()

	body := `{"donor_hash":"d-hash","center_id":"` + center.String() + `","scheduled_at":"2024-06-01T12:00:00+02:00","donation_type":"whole_blood"}`
	rec := do(t, router, http.MethodPost, "/appointments", body, map[string]string{
		"X-Actor-ID":        "staff-7",
		"X-Booking-Channel": "Kiosk",
		"X-Request-ID":      "req-1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	assert.Equal(t, "d-hash", svc.gotInput.DonorHash)
	assert.Equal(t, center, svc.gotInput.CenterID)
	assert.True(t, svc.gotInput.ScheduledAt.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, eligibility.WholeBlood, svc.gotInput.DonationType)
	assert.Nil(t, svc.gotInput.StaffID)

	assert.Equal(t, "staff-7", requestctx.ActorID(svc.gotCtx))
	assert.Equal(t, "kiosk", requestctx.Channel(svc.gotCtx))
	assert.Equal(t, "req-1", requestctx.RequestID(svc.gotCtx))

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, svc.appt.ID, resp.ID)
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, "whole_blood", resp.DonationType)
}

func TestCreateAppointmentHandler_BadInput(t *testing.T) {
	router := NewRouter(RouterConfig{Service: &stubService{}})
	center := uuid.NewString()

	tests := []struct {
		name string
		body string
		code string
	}{
		{"not json", `{`, "invalid_request_body"},
		{"bad center", `{"center_id":"nope","scheduled_at":"2024-06-01T10:00:00Z"}`, "invalid_center_id"},
		{"bad time", `{"center_id":"` + center + `","scheduled_at":"June 1st"}`, "invalid_scheduled_at"},
		{"missing time", `{"center_id":"` + center + `"}`, "invalid_scheduled_at"},
		{"bad staff", `{"center_id":"` + center + `","scheduled_at":"2024-06-01T10:00:00Z","staff_id":"x"}`, "invalid_staff_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/appointments", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &appointment.ValidationError{Field: "status", Message: "bad"}, http.StatusBadRequest, "validation_error"},
		{"not found", &appointment.NotFoundError{Resource: "donor", ID: "x", Err: appointment.ErrDonorNotFound}, http.StatusNotFound, "donor_not_found"},
		{"inactive", &appointment.InactiveDonorError{DonorHash: "x"}, http.StatusUnprocessableEntity, "donor_inactive"},
		{"capacity", &appointment.CapacityConflict{Occupied: 10, Capacity: 10}, http.StatusConflict, "capacity_exceeded"},
		{"busy", appointment.ErrCenterBusy, http.StatusConflict, "center_busy"},
		{"internal", errors.New("pq: connection refused to 10.0.0.3"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(RouterConfig{Service: &stubService{err: tt.err}})
			rec := do(t, router, http.MethodGet, "/appointments/"+uuid.NewString(), "", nil)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error)
			assert.NotContains(t, resp.Details, "10.0.0.3")
		})
	}
}

func TestServiceErrorMapping_EligibilityDetails(t *testing.T) {
	res, err := eligibility.Validate(eligibility.WholeBlood,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		ptr(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)), 1)
	require.NoError(t, err)
	require.False(t, res.Eligible)

	router := NewRouter(RouterConfig{Service: &stubService{err: &appointment.EligibilityViolation{Result: res}}})
	rec := do(t, router, http.MethodPost, "/appointments",
		`{"center_id":"`+uuid.NewString()+`","scheduled_at":"2024-06-01T10:00:00Z"}`, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "eligibility_violation", resp.Error)
	require.NotNil(t, resp.Eligibility)
	assert.Equal(t, "min_gap", resp.Eligibility.Violation)
	assert.Equal(t, 90, resp.Eligibility.MinGapDays)
	assert.Equal(t, 89, resp.Eligibility.DaysElapsed)
	assert.Contains(t, resp.Details, "89 days")
}

func TestUpdateAppointmentHandler(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	router := NewRouter(RouterConfig{Service: svc})

	rec := do(t, router, http.MethodPatch, "/appointments/"+uuid.NewString(),
		`{"scheduled_at":"2024-06-02T09:30:00Z","donation_type":"plasma"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.gotChanges.ScheduledAt)
	assert.True(t, svc.gotChanges.ScheduledAt.Equal(time.Date(2024, 6, 2, 9, 30, 0, 0, time.UTC)))
	require.NotNil(t, svc.gotChanges.DonationType)
	assert.Equal(t, eligibility.Plasma, *svc.gotChanges.DonationType)
	assert.Nil(t, svc.gotChanges.CenterID)
	assert.Nil(t, svc.gotChanges.StaffID)
}

func TestUpdateStatusHandler(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	router := NewRouter(RouterConfig{Service: svc})

	rec := do(t, router, http.MethodPatch, "/appointments/"+uuid.NewString()+"/status", `{"status":"arrived"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "arrived", svc.gotStatus)

	rec = do(t, router, http.MethodPatch, "/appointments/not-a-uuid/status", `{"status":"arrived"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_appointment_id", decodeError(t, rec).Error)
}

func TestListAppointmentsHandler(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	router := NewRouter(RouterConfig{Service: svc})
	center := uuid.New()

	rec := do(t, router, http.MethodGet,
		"/appointments?center_id="+center.String()+"&status=confirmed&from=2024-06-01T00:00:00Z&limit=5&offset=10", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.gotFilter.CenterID)
	assert.Equal(t, center, *svc.gotFilter.CenterID)
	require.NotNil(t, svc.gotFilter.Status)
	assert.Equal(t, appointment.StatusConfirmed, *svc.gotFilter.Status)
	require.NotNil(t, svc.gotFilter.From)
	assert.Nil(t, svc.gotFilter.To)
	assert.Equal(t, 5, svc.gotFilter.Limit)
	assert.Equal(t, 10, svc.gotFilter.Offset)

	var resp ListAppointmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Appointments, 1)

	rec = do(t, router, http.MethodGet, "/appointments?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppointmentStatsHandler(t *testing.T) {
	router := NewRouter(RouterConfig{Service: &stubService{}})

	rec := do(t, router, http.MethodGet, "/appointments/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats appointment.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByDonationType[eligibility.Plasma])
}

func TestHealthEndpoints(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name     string
		postgres HealthCheck
		redis    HealthCheck
		code     int
		status   string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(RouterConfig{Service: &stubService{}, Postgres: tt.postgres, Redis: tt.redis, Version: "test"})

			rec := do(t, router, http.MethodGet, "/health/ready", "", nil)
			assert.Equal(t, tt.code, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)

			rec = do(t, router, http.MethodGet, "/health/live", "", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func ptr[T any](v T) *T { return &v }
