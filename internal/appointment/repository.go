package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDonorByHash(ctx context.Context, hash string) (*Donor, error)
	GetCenterByID(ctx context.Context, id uuid.UUID) (*Center, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For capacity checks. Counts appointments at the center scheduled in
	// [from, to] whose status still occupies capacity.
	CountOccupying(ctx context.Context, centerID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, changes Changes) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error)
	MarkConfirmationSent(ctx context.Context, id uuid.UUID) (bool, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error)

	// Donor statistics. Applies at most once per appointment id and reports
	// whether this call applied it.
	RecordDonation(ctx context.Context, appointmentID uuid.UUID, donorHash string, donatedAt time.Time) (bool, error)

	// Reads
	ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error)
	AppointmentStats(ctx context.Context, filter ListFilter) (*Stats, error)

	// Reminder worker
	FindReminderCandidates(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error)
}
