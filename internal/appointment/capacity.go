package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckCapacity counts appointments at the center that still hold a place
// within ContentionWindow of at, both ends inclusive. exclude, when set, is
// left out of the count so an appointment being moved does not compete with
// itself.
//
// The result is only meaningful while the caller holds the center lock;
// outside of it another booking may land between check and write.
func (s *Service) CheckCapacity(ctx context.Context, centerID uuid.UUID, at time.Time, exclude *uuid.UUID) (Capacity, error) {
	center, err := s.repo.GetCenterByID(ctx, centerID)
	if err != nil {
		if errors.Is(err, ErrCenterNotFound) {
			return Capacity{}, &NotFoundError{Resource: "center", ID: centerID.String(), Err: err}
		}
		return Capacity{}, fmt.Errorf("load center: %w", err)
	}

	return s.checkCenterCapacity(ctx, center, at, exclude)
}

func (s *Service) checkCenterCapacity(ctx context.Context, center *Center, at time.Time, exclude *uuid.UUID) (Capacity, error) {
	from, to := contentionWindow(at)

	occupied, err := s.repo.CountOccupying(ctx, center.ID, from, to, exclude)
	if err != nil {
		return Capacity{}, fmt.Errorf("count occupying appointments: %w", err)
	}

	limit := center.EffectiveCapacity()
	return Capacity{
		Available: occupied < limit,
		Occupied:  occupied,
		Capacity:  limit,
	}, nil
}

func contentionWindow(at time.Time) (time.Time, time.Time) {
	return at.Add(-ContentionWindow), at.Add(ContentionWindow)
}
