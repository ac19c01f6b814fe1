package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/donation-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	DonorHash    string  `json:"donor_hash"`
	CenterID     string  `json:"center_id"`
	ScheduledAt  string  `json:"scheduled_at"`
	DonationType string  `json:"donation_type"`
	StaffID      *string `json:"staff_id,omitempty"`
}

// UpdateAppointmentRequest carries only the fields being changed.
type UpdateAppointmentRequest struct {
	ScheduledAt  *string `json:"scheduled_at,omitempty"`
	DonationType *string `json:"donation_type,omitempty"`
	CenterID     *string `json:"center_id,omitempty"`
	StaffID      *string `json:"staff_id,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	DonorHash        string     `json:"donor_hash"`
	CenterID         uuid.UUID  `json:"center_id"`
	StaffID          *uuid.UUID `json:"staff_id,omitempty"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	DonationType     string     `json:"donation_type"`
	Status           string     `json:"status"`
	BookingChannel   string     `json:"booking_channel"`
	ConfirmationSent bool       `json:"confirmation_sent"`
	ReminderSent     bool       `json:"reminder_sent"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		DonorHash:        a.DonorHash,
		CenterID:         a.CenterID,
		StaffID:          a.StaffID,
		ScheduledAt:      a.ScheduledAt,
		DonationType:     string(a.DonationType),
		Status:           string(a.Status),
		BookingChannel:   a.BookingChannel,
		ConfirmationSent: a.ConfirmationSent,
		ReminderSent:     a.ReminderSent,
		CompletedAt:      a.CompletedAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type ErrorResponse struct {
	Error       string               `json:"error"`
	Details     string               `json:"details,omitempty"`
	Eligibility *EligibilityResponse `json:"eligibility,omitempty"`
	Capacity    *CapacityResponse    `json:"capacity,omitempty"`
}

// EligibilityResponse explains a rejected booking so staff can tell the
// donor when they can come back.
type EligibilityResponse struct {
	Violation         string  `json:"violation"`
	DonationType      string  `json:"donation_type"`
	MinGapDays        int     `json:"min_gap_days"`
	DaysElapsed       int     `json:"days_elapsed"`
	AnnualCap         float64 `json:"annual_cap"`
	CapUnit           string  `json:"cap_unit"`
	DonationsThisYear int     `json:"donations_this_year"`
}

type CapacityResponse struct {
	Occupied int `json:"occupied"`
	Capacity int `json:"capacity"`
}
