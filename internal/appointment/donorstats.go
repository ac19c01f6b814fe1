package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DonorStats advances a donor's last donation date and yearly counter when
// one of their appointments completes. It touches no other donor field.
type DonorStats struct {
	repo Repository
}

func NewDonorStats(repo Repository) *DonorStats {
	return &DonorStats{repo: repo}
}

// RecordCompletion applies the donation at most once per appointment. It
// returns false when the appointment had already been counted.
func (d *DonorStats) RecordCompletion(ctx context.Context, appointmentID uuid.UUID, donorHash string, donatedAt time.Time) (bool, error) {
	applied, err := d.repo.RecordDonation(ctx, appointmentID, donorHash, donatedAt.UTC())
	if err != nil {
		if errors.Is(err, ErrDonorNotFound) {
			return false, &NotFoundError{Resource: "donor", ID: donorHash, Err: err}
		}
		return false, fmt.Errorf("record donation: %w", err)
	}
	return applied, nil
}
