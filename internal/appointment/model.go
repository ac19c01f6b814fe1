package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/donation-scheduling/internal/eligibility"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusArrived    AppointmentStatus = "arrived"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no-show"
)

// ValidStatuses lists every status in lifecycle order.
var ValidStatuses = []AppointmentStatus{
	StatusScheduled,
	StatusConfirmed,
	StatusArrived,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

func (s AppointmentStatus) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// OccupiesCapacity reports whether an appointment in this status holds a
// place at its center.
func (s AppointmentStatus) OccupiesCapacity() bool {
	return s != StatusCancelled && s != StatusNoShow
}

type DonationType = eligibility.DonationType

// DefaultCenterCapacity applies when a center has no explicit capacity.
const DefaultCenterCapacity = 10

// ContentionWindow is the half-width of the interval around a slot in which
// appointments compete for the same capacity.
const ContentionWindow = 30 * time.Minute

// Donor is the subset of the donor record the scheduler reads. Hash is an
// irreversible identifier; no personal data is loaded.
type Donor struct {
	Hash                   string
	Active                 bool
	LastDonationDate       *time.Time
	TotalDonationsThisYear int
}

type Center struct {
	ID       uuid.UUID
	Name     string
	Capacity *int
}

// EffectiveCapacity returns the configured capacity or the default when it is
// unset or not positive.
func (c *Center) EffectiveCapacity() int {
	if c.Capacity == nil || *c.Capacity <= 0 {
		return DefaultCenterCapacity
	}
	return *c.Capacity
}

type Appointment struct {
	ID               uuid.UUID
	DonorHash        string
	StaffID          *uuid.UUID
	CenterID         uuid.UUID
	ScheduledAt      time.Time
	DonationType     DonationType
	Status           AppointmentStatus
	BookingChannel   string
	ConfirmationSent bool
	ReminderSent     bool
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Changes holds the optional fields of an update; nil fields are left as is.
type Changes struct {
	ScheduledAt  *time.Time
	DonationType *DonationType
	CenterID     *uuid.UUID
	StaffID      *uuid.UUID
}

func (c Changes) Empty() bool {
	return c.ScheduledAt == nil && c.DonationType == nil && c.CenterID == nil && c.StaffID == nil
}

type ListFilter struct {
	CenterID  *uuid.UUID
	DonorHash string
	Status    *AppointmentStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type Stats struct {
	Total          int                       `json:"total"`
	ByStatus       map[AppointmentStatus]int `json:"by_status"`
	ByDonationType map[DonationType]int      `json:"by_donation_type"`
}

// Capacity is the outcome of a capacity check for one slot.
type Capacity struct {
	Available bool
	Occupied  int
	Capacity  int
}

func newStats() *Stats {
	return &Stats{
		ByStatus:       make(map[AppointmentStatus]int, len(ValidStatuses)),
		ByDonationType: make(map[DonationType]int, 2),
	}
}

func (s *Stats) add(status AppointmentStatus, typ DonationType, n int) {
	s.Total += n
	s.ByStatus[status] += n
	s.ByDonationType[typ] += n
}
