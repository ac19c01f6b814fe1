package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/donation-scheduling/internal/audit"
	"github.com/hackgods/donation-scheduling/internal/config"
	"github.com/hackgods/donation-scheduling/internal/eligibility"
	"github.com/hackgods/donation-scheduling/internal/events"
	"github.com/hackgods/donation-scheduling/internal/logging"
	redisclient "github.com/hackgods/donation-scheduling/internal/redis"
	"github.com/hackgods/donation-scheduling/internal/requestctx"
)

const (
	ActionCreate       = "appointment.create"
	ActionUpdate       = "appointment.update"
	ActionUpdateStatus = "appointment.update_status"

	resourceAppointment = "appointment"

	reminderBatchSize = 200
)

// AuditSink records who changed what. Failures never abort an operation.
type AuditSink interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Broadcaster pushes realtime events to staff dashboards and the
// notification service.
type Broadcaster interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	audit  AuditSink
	bus    Broadcaster
	stats  *DonorStats
	cfg    config.Config
}

func NewService(repo Repository, locker redisclient.Locker, auditSink AuditSink, bus Broadcaster, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		audit:  auditSink,
		bus:    bus,
		stats:  NewDonorStats(repo),
		cfg:    cfg,
	}
}

type CreateInput struct {
	DonorHash    string
	CenterID     uuid.UUID
	ScheduledAt  time.Time
	DonationType DonationType
	StaffID      *uuid.UUID
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.DonorHash) == "" {
		return validationError("donor_hash", "donor_hash is required")
	}
	if in.CenterID == uuid.Nil {
		return validationError("center_id", "center_id is required")
	}
	if in.ScheduledAt.IsZero() {
		return validationError("scheduled_at", "scheduled_at is required")
	}
	if !in.DonationType.IsValid() {
		return invalidDonationTypeError(in.DonationType)
	}
	return nil
}

// CreateAppointment books a donor into a center. The donor must be active and
// eligible for the donation type on that date, and the center must have room
// in the contention window. The capacity check and insert run under a per
// center lock so concurrent bookings cannot both take the last place.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.DonorHash = strings.TrimSpace(in.DonorHash)
	in.ScheduledAt = in.ScheduledAt.UTC()

	donor, err := s.loadDonor(ctx, in.DonorHash)
	if err != nil {
		return nil, err
	}
	if !donor.Active {
		return nil, &InactiveDonorError{DonorHash: donor.Hash}
	}

	if err := s.checkEligibility(in.DonationType, in.ScheduledAt, donor); err != nil {
		s.recordAudit(ctx, ActionCreate, "", map[string]any{
			"donor_hash":    in.DonorHash,
			"center_id":     in.CenterID.String(),
			"scheduled_at":  in.ScheduledAt,
			"donation_type": in.DonationType,
			"reason":        err.Error(),
		}, audit.OutcomeFailure)
		return nil, err
	}

	var created *Appointment

	err = s.withCenterLock(ctx, in.CenterID, func(lockCtx context.Context) error {
		capacity, err := s.CheckCapacity(lockCtx, in.CenterID, in.ScheduledAt, nil)
		if err != nil {
			return err
		}
		if !capacity.Available {
			return &CapacityConflict{Occupied: capacity.Occupied, Capacity: capacity.Capacity}
		}

		appt, err := s.repo.CreateAppointment(lockCtx, Appointment{
			ID:             uuid.New(),
			DonorHash:      in.DonorHash,
			StaffID:        in.StaffID,
			CenterID:       in.CenterID,
			ScheduledAt:    in.ScheduledAt,
			DonationType:   in.DonationType,
			Status:         StatusScheduled,
			BookingChannel: requestctx.Channel(ctx),
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		var conflict *CapacityConflict
		if errors.As(err, &conflict) {
			s.recordAudit(ctx, ActionCreate, "", map[string]any{
				"center_id":    in.CenterID.String(),
				"scheduled_at": in.ScheduledAt,
				"occupied":     conflict.Occupied,
				"capacity":     conflict.Capacity,
			}, audit.OutcomeFailure)
		}
		return nil, s.internal(ctx, "create appointment", err)
	}

	s.recordAudit(ctx, ActionCreate, created.ID.String(), map[string]any{
		"after": snapshot(created),
	}, audit.OutcomeSuccess)
	s.publish(ctx, events.AppointmentCreated, newAppointmentEvent(created))

	return created, nil
}

// UpdateAppointment applies the supplied changes. A new time or center is
// re-checked for capacity, leaving the appointment itself out of the count;
// a new time or donation type is re-checked for eligibility against the new
// type.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, changes Changes) (*Appointment, error) {
	if changes.Empty() {
		return nil, validationError("", "no fields to update")
	}
	if changes.ScheduledAt != nil {
		if changes.ScheduledAt.IsZero() {
			return nil, validationError("scheduled_at", "scheduled_at must not be empty")
		}
		t := changes.ScheduledAt.UTC()
		changes.ScheduledAt = &t
	}
	if changes.DonationType != nil && !changes.DonationType.IsValid() {
		return nil, invalidDonationTypeError(*changes.DonationType)
	}
	if changes.CenterID != nil && *changes.CenterID == uuid.Nil {
		return nil, validationError("center_id", "center_id must not be empty")
	}

	existing, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	scheduledAt := existing.ScheduledAt
	timeChanged := changes.ScheduledAt != nil && !changes.ScheduledAt.Equal(existing.ScheduledAt)
	if timeChanged {
		scheduledAt = *changes.ScheduledAt
	}
	donationType := existing.DonationType
	typeChanged := changes.DonationType != nil && *changes.DonationType != existing.DonationType
	if typeChanged {
		donationType = *changes.DonationType
	}
	centerID := existing.CenterID
	centerChanged := changes.CenterID != nil && *changes.CenterID != existing.CenterID
	if centerChanged {
		centerID = *changes.CenterID
	}

	if timeChanged || typeChanged {
		donor, err := s.loadDonor(ctx, existing.DonorHash)
		if err != nil {
			return nil, err
		}
		if err := s.checkEligibility(donationType, scheduledAt, donor); err != nil {
			return nil, err
		}
	}

	var updated *Appointment
	write := func(ctx context.Context) error {
		appt, err := s.repo.UpdateAppointment(ctx, id, changes)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return &NotFoundError{Resource: "appointment", ID: id.String(), Err: err}
			}
			return fmt.Errorf("update appointment: %w", err)
		}
		updated = appt
		return nil
	}

	if timeChanged || centerChanged {
		err = s.withCenterLock(ctx, centerID, func(lockCtx context.Context) error {
			capacity, err := s.CheckCapacity(lockCtx, centerID, scheduledAt, &id)
			if err != nil {
				return err
			}
			if !capacity.Available {
				return &CapacityConflict{Occupied: capacity.Occupied, Capacity: capacity.Capacity}
			}
			return write(lockCtx)
		})
	} else {
		err = write(ctx)
	}
	if err != nil {
		return nil, s.internal(ctx, "update appointment", err)
	}

	s.recordAudit(ctx, ActionUpdate, id.String(), map[string]any{
		"before": snapshot(existing),
		"after":  snapshot(updated),
	}, audit.OutcomeSuccess)
	s.publish(ctx, events.AppointmentUpdated, newAppointmentEvent(updated))

	return updated, nil
}

// UpdateAppointmentStatus moves an appointment to any of the defined
// statuses; no transition graph is enforced so staff can correct mistakes.
// Completing an appointment credits the donation to the donor once, however
// many times the completed status is written.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, rawStatus string) (*Appointment, error) {
	status := AppointmentStatus(strings.TrimSpace(rawStatus))
	if !status.IsValid() {
		return nil, invalidStatusError(rawStatus)
	}

	existing, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, &NotFoundError{Resource: "appointment", ID: id.String(), Err: err}
		}
		return nil, s.internal(ctx, "update appointment status", fmt.Errorf("update status: %w", err))
	}

	details := map[string]any{
		"from": existing.Status,
		"to":   updated.Status,
	}

	switch status {
	case StatusCompleted:
		applied, err := s.stats.RecordCompletion(ctx, updated.ID, updated.DonorHash, updated.ScheduledAt)
		if err != nil {
			details["stats_error"] = err.Error()
			s.recordAudit(ctx, ActionUpdateStatus, id.String(), details, audit.OutcomeFailure)
			return nil, s.internal(ctx, "record donor completion", err)
		}
		details["stats_applied"] = applied
		if !applied {
			logging.FromContext(ctx).Info().
				Str("appointment_id", id.String()).
				Msg("appointment already credited to donor, skipping stats update")
		}
	case StatusArrived:
		s.publishArrival(ctx, updated)
	case StatusConfirmed:
		s.requestConfirmation(ctx, updated)
	}

	s.recordAudit(ctx, ActionUpdateStatus, id.String(), details, audit.OutcomeSuccess)
	s.publish(ctx, events.AppointmentStatusChanged, statusChangedEvent{
		appointmentEvent: newAppointmentEvent(updated),
		PreviousStatus:   existing.Status,
	})

	return updated, nil
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.loadAppointment(ctx, id)
}

// ListAppointments returns appointments matching filter ordered by time.
func (s *Service) ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20 // default
	}
	if filter.Limit > 100 {
		filter.Limit = 100 // max
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if err := validateRange(filter); err != nil {
		return nil, err
	}

	appointments, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, s.internal(ctx, "list appointments", err)
	}
	return appointments, nil
}

// AppointmentStats aggregates appointments matching filter; Limit and
// Offset are ignored.
func (s *Service) AppointmentStats(ctx context.Context, filter ListFilter) (*Stats, error) {
	if err := validateRange(filter); err != nil {
		return nil, err
	}
	stats, err := s.repo.AppointmentStats(ctx, filter)
	if err != nil {
		return nil, s.internal(ctx, "appointment stats", err)
	}
	return stats, nil
}

// DispatchReminders flags upcoming appointments whose reminder has not gone
// out and emits a reminder event for each. Intended to be called by the
// worker periodically; returns the number of reminders emitted.
func (s *Service) DispatchReminders(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.FindReminderCandidates(ctx, now, now.Add(s.cfg.ReminderLead), reminderBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find reminder candidates: %w", err)
	}

	logger := logging.FromContext(ctx)
	sent := 0
	for i := range candidates {
		appt := &candidates[i]
		flipped, err := s.repo.MarkReminderSent(ctx, appt.ID)
		if err != nil {
			logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark reminder sent")
			continue
		}
		if !flipped {
			continue
		}
		appt.ReminderSent = true
		s.publish(ctx, events.AppointmentReminderDue, newAppointmentEvent(appt))
		sent++
	}

	return sent, nil
}

func (s *Service) checkEligibility(t DonationType, at time.Time, donor *Donor) error {
	res, err := eligibility.Validate(t, at, donor.LastDonationDate, donor.TotalDonationsThisYear)
	if err != nil {
		return invalidDonationTypeError(t)
	}
	if !res.Eligible {
		return &EligibilityViolation{Result: res}
	}
	return nil
}

func (s *Service) withCenterLock(ctx context.Context, centerID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithCenterLock(ctx, centerID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrCenterBusy
	}
	return err
}

func (s *Service) loadDonor(ctx context.Context, hash string) (*Donor, error) {
	donor, err := s.repo.GetDonorByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrDonorNotFound) {
			return nil, &NotFoundError{Resource: "donor", ID: hash, Err: err}
		}
		return nil, s.internal(ctx, "load donor", fmt.Errorf("load donor: %w", err))
	}
	return donor, nil
}

func (s *Service) loadAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, &NotFoundError{Resource: "appointment", ID: id.String(), Err: err}
		}
		return nil, s.internal(ctx, "load appointment", fmt.Errorf("load appointment: %w", err))
	}
	return appt, nil
}

func (s *Service) publishArrival(ctx context.Context, appt *Appointment) {
	centerName := ""
	center, err := s.repo.GetCenterByID(ctx, appt.CenterID)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).
			Str("center_id", appt.CenterID.String()).
			Msg("failed to load center for arrival event")
	} else {
		centerName = center.Name
	}

	s.publish(ctx, events.NewArrival, arrivalEvent{
		AppointmentID: appt.ID,
		CenterID:      appt.CenterID,
		CenterName:    centerName,
		DonationType:  appt.DonationType,
		ScheduledAt:   appt.ScheduledAt,
	})
}

func (s *Service) requestConfirmation(ctx context.Context, appt *Appointment) {
	flipped, err := s.repo.MarkConfirmationSent(ctx, appt.ID)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).
			Str("appointment_id", appt.ID.String()).
			Msg("failed to mark confirmation sent")
		return
	}
	if !flipped {
		return
	}
	appt.ConfirmationSent = true
	s.publish(ctx, events.AppointmentConfirmationDue, newAppointmentEvent(appt))
}

// internal logs infrastructure failures. Expected outcomes pass through
// untouched.
func (s *Service) internal(ctx context.Context, op string, err error) error {
	if IsExpected(err) || errors.Is(err, context.Canceled) {
		return err
	}
	logging.FromContext(ctx).Error().Err(err).Str("op", op).Msg("appointment operation failed")
	return err
}

func (s *Service) recordAudit(ctx context.Context, action, resourceID string, details map[string]any, outcome audit.Outcome) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:      requestctx.ActorID(ctx),
		Action:       action,
		ResourceType: resourceAppointment,
		ResourceID:   resourceID,
		Details:      details,
		Outcome:      outcome,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).
			Str("action", action).
			Str("resource_id", resourceID).
			Msg("failed to record audit entry")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventType, payload); err != nil {
		logging.FromContext(ctx).Warn().Err(err).
			Str("event_type", eventType).
			Msg("failed to broadcast event")
	}
}

func validateRange(f ListFilter) error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return validationError("to", "to must not be before from")
	}
	if f.Status != nil && !f.Status.IsValid() {
		return invalidStatusError(string(*f.Status))
	}
	return nil
}

type appointmentEvent struct {
	AppointmentID uuid.UUID         `json:"appointment_id"`
	DonorHash     string            `json:"donor_hash"`
	CenterID      uuid.UUID         `json:"center_id"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	DonationType  DonationType      `json:"donation_type"`
	Status        AppointmentStatus `json:"status"`
}

func newAppointmentEvent(a *Appointment) appointmentEvent {
	return appointmentEvent{
		AppointmentID: a.ID,
		DonorHash:     a.DonorHash,
		CenterID:      a.CenterID,
		ScheduledAt:   a.ScheduledAt,
		DonationType:  a.DonationType,
		Status:        a.Status,
	}
}

type statusChangedEvent struct {
	appointmentEvent
	PreviousStatus AppointmentStatus `json:"previous_status"`
}

type arrivalEvent struct {
	AppointmentID uuid.UUID    `json:"appointment_id"`
	CenterID      uuid.UUID    `json:"center_id"`
	CenterName    string       `json:"center_name"`
	DonationType  DonationType `json:"donation_type"`
	ScheduledAt   time.Time    `json:"scheduled_at"`
}

func snapshot(a *Appointment) map[string]any {
	m := map[string]any{
		"center_id":     a.CenterID.String(),
		"scheduled_at":  a.ScheduledAt,
		"donation_type": a.DonationType,
		"status":        a.Status,
	}
	if a.StaffID != nil {
		m["staff_id"] = a.StaffID.String()
	}
	return m
}
