package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/donation-scheduling/internal/audit"
	redisclient "github.com/hackgods/donation-scheduling/internal/redis"
)

// memRepo is an in-memory Repository mirroring the SQL semantics of
// PgRepository closely enough for service tests.
type memRepo struct {
	mu           sync.Mutex
	donors       map[string]*Donor
	centers      map[uuid.UUID]*Center
	appointments map[uuid.UUID]*Appointment
	completions  map[uuid.UUID]time.Time

	countErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		donors:       make(map[string]*Donor),
		centers:      make(map[uuid.UUID]*Center),
		appointments: make(map[uuid.UUID]*Appointment),
		completions:  make(map[uuid.UUID]time.Time),
	}
}

func (r *memRepo) addDonor(d Donor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.donors[d.Hash] = &d
}

func (r *memRepo) addCenter(c Center) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.centers[c.ID] = &c
}

func (r *memRepo) addAppointment(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.appointments[a.ID] = &a
}

func (r *memRepo) donor(hash string) Donor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.donors[hash]
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appointments)
}

func (r *memRepo) GetDonorByHash(ctx context.Context, hash string) (*Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donors[hash]
	if !ok {
		return nil, ErrDonorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) GetCenterByID(ctx context.Context, id uuid.UUID) (*Center, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.centers[id]
	if !ok {
		return nil, ErrCenterNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) CountOccupying(ctx context.Context, centerID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	n := 0
	for _, a := range r.appointments {
		if a.CenterID != centerID || !a.Status.OccupiesCapacity() {
			continue
		}
		if a.ScheduledAt.Before(from) || a.ScheduledAt.After(to) {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		n++
	}
	return n, nil
}

func (r *memRepo) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	r.appointments[appt.ID] = &appt
	cp := appt
	return &cp, nil
}

func (r *memRepo) UpdateAppointment(ctx context.Context, id uuid.UUID, changes Changes) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if changes.ScheduledAt != nil {
		a.ScheduledAt = *changes.ScheduledAt
	}
	if changes.DonationType != nil {
		a.DonationType = *changes.DonationType
	}
	if changes.CenterID != nil {
		a.CenterID = *changes.CenterID
	}
	if changes.StaffID != nil {
		staff := *changes.StaffID
		a.StaffID = &staff
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	now := time.Now().UTC()
	if to == StatusCompleted && a.CompletedAt == nil {
		a.CompletedAt = &now
	}
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (r *memRepo) MarkConfirmationSent(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.ConfirmationSent {
		return false, nil
	}
	a.ConfirmationSent = true
	return true, nil
}

func (r *memRepo) MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.ReminderSent {
		return false, nil
	}
	a.ReminderSent = true
	return true, nil
}

func (r *memRepo) RecordDonation(ctx context.Context, appointmentID uuid.UUID, donorHash string, donatedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.completions[appointmentID]; done {
		return false, nil
	}
	d, ok := r.donors[donorHash]
	if !ok {
		return false, ErrDonorNotFound
	}
	r.completions[appointmentID] = donatedAt
	last := donatedAt
	d.LastDonationDate = &last
	d.TotalDonationsThisYear++
	return true, nil
}

func (r *memRepo) matching(f ListFilter) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if f.CenterID != nil && a.CenterID != *f.CenterID {
			continue
		}
		if f.DonorHash != "" && a.DonorHash != f.DonorHash {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.From != nil && a.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.ScheduledAt.After(*f.To) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (r *memRepo) ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.matching(filter)
	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (r *memRepo) AppointmentStats(ctx context.Context, filter ListFilter) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := newStats()
	for _, a := range r.matching(filter) {
		stats.add(a.Status, a.DonationType, 1)
	}
	return stats, nil
}

func (r *memRepo) FindReminderCandidates(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.matching(ListFilter{From: &from, To: &to}) {
		if a.ReminderSent || (a.Status != StatusScheduled && a.Status != StatusConfirmed) {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// mutexLocker serializes per center in process, standing in for Redis.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
	busy  bool
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *mutexLocker) WithCenterLock(ctx context.Context, centerID uuid.UUID, fn func(ctx context.Context) error) error {
	if l.busy {
		return redisclient.ErrLockNotAcquired
	}
	l.mu.Lock()
	m, ok := l.locks[centerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[centerID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) Record(ctx context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return f.err
}

func (f *fakeAudit) last() audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[len(f.entries)-1]
}

type publishedEvent struct {
	Type    string
	Payload any
}

type fakeBus struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (f *fakeBus) Publish(ctx context.Context, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Type: eventType, Payload: payload})
	return f.err
}

func (f *fakeBus) ofType(eventType string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
