package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, donor_hash, staff_id, center_id, scheduled_at, donation_type, status,
	booking_channel, confirmation_sent, reminder_sent, completed_at, created_at, updated_at`

// Helpers

func scanDonor(row pgx.Row) (*Donor, error) {
	var d Donor
	err := row.Scan(
		&d.Hash,
		&d.Active,
		&d.LastDonationDate,
		&d.TotalDonationsThisYear,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Capacity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCenterNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DonorHash,
		&a.StaffID,
		&a.CenterID,
		&a.ScheduledAt,
		&a.DonationType,
		&a.Status,
		&a.BookingChannel,
		&a.ConfirmationSent,
		&a.ReminderSent,
		&a.CompletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) GetDonorByHash(ctx context.Context, hash string) (*Donor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT hash, active, last_donation_date, total_donations_this_year
		FROM donors
		WHERE hash = $1
	`, hash)
	return scanDonor(row)
}

func (r *PgRepository) GetCenterByID(ctx context.Context, id uuid.UUID) (*Center, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, capacity
		FROM donation_centers
		WHERE id = $1
	`, id)
	return scanCenter(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CountOccupying(ctx context.Context, centerID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE center_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at <= $3
		  AND status NOT IN ('cancelled', 'no-show')
		  AND ($4::uuid IS NULL OR id <> $4)
	`, centerID, from, to, exclude).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count occupying appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, donor_hash, staff_id, center_id, scheduled_at, donation_type, status,
			booking_channel, confirmation_sent, reminder_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, now(), now())
		RETURNING `+appointmentColumns,
		appt.ID, appt.DonorHash, appt.StaffID, appt.CenterID, appt.ScheduledAt,
		appt.DonationType, appt.Status, appt.BookingChannel)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, changes Changes) (*Appointment, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if changes.ScheduledAt != nil {
		add("scheduled_at", *changes.ScheduledAt)
	}
	if changes.DonationType != nil {
		add("donation_type", *changes.DonationType)
	}
	if changes.CenterID != nil {
		add("center_id", *changes.CenterID)
	}
	if changes.StaffID != nil {
		add("staff_id", *changes.StaffID)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+appointmentColumns, args...)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2::text,
		    completed_at = CASE WHEN $2::text = 'completed' THEN COALESCE(completed_at, now()) ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns, id, to)

	return scanAppointment(row)
}

func (r *PgRepository) MarkConfirmationSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET confirmation_sent = true, updated_at = now()
		WHERE id = $1 AND confirmation_sent = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark confirmation sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true, updated_at = now()
		WHERE id = $1 AND reminder_sent = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordDonation inserts the completion marker and advances the donor's
// counters in one transaction. A second call for the same appointment finds
// the marker and changes nothing.
func (r *PgRepository) RecordDonation(ctx context.Context, appointmentID uuid.UUID, donorHash string, donatedAt time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin donation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO donation_completions (appointment_id, donor_hash, donated_at, recorded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (appointment_id) DO NOTHING
	`, appointmentID, donorHash, donatedAt)
	if err != nil {
		return false, fmt.Errorf("insert donation completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE donors
		SET last_donation_date = $2,
		    total_donations_this_year = total_donations_this_year + 1
		WHERE hash = $1
	`, donorHash, donatedAt)
	if err != nil {
		return false, fmt.Errorf("update donor stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrDonorNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit donation tx: %w", err)
	}
	return true, nil
}

func buildFilter(f ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.CenterID != nil {
		add("center_id = $%d", *f.CenterID)
	}
	if f.DonorHash != "" {
		add("donor_hash = $%d", f.DonorHash)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != nil {
		add("scheduled_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("scheduled_at <= $%d", *f.To)
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	where, args := buildFilter(filter)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments%s
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) AppointmentStats(ctx context.Context, filter ListFilter) (*Stats, error) {
	where, args := buildFilter(filter)

	rows, err := r.pool.Query(ctx, `
		SELECT status, donation_type, count(*)
		FROM appointments`+where+`
		GROUP BY status, donation_type
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("appointment stats: %w", err)
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var (
			status AppointmentStatus
			typ    DonationType
			n      int
		)
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return nil, err
		}
		stats.add(status, typ, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PgRepository) FindReminderCandidates(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND reminder_sent = false
		  AND scheduled_at >= $1
		  AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("find reminder candidates: %w", err)
	}
	return collectAppointments(rows)
}
