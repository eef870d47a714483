package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/interval"
)

type BlockRequest struct {
	DoctorID uuid.UUID
	Start    time.Time
	End      time.Time
	AllDay   bool
	Reason   *string
}

// CreateBlock takes time out of the doctor's own calendar. All-day blocks
// cover the clinic-local days from Start through End.
func (s *Service) CreateBlock(ctx context.Context, actor Actor, req BlockRequest) (*Block, error) {
	if !actor.IsDoctor(req.DoctorID) {
		return nil, ErrNotAllowed
	}

	start, end := req.Start.UTC(), req.End.UTC()
	if req.AllDay {
		firstDay := s.zone.Local(start).StartOfDay()
		lastDay := firstDay
		if end.After(start) {
			endLocal := s.zone.Local(end)
			lastDay = endLocal.StartOfDay()
			// an end at local midnight closes the previous day
			if endLocal.Equal(lastDay) {
				lastDay = lastDay.AddDays(-1)
			}
		}
		start = s.zone.UTC(firstDay)
		end = s.zone.UTC(lastDay.AddDays(1))
	}

	iv := interval.Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return nil, ErrInvalidRange
	}
	now := s.clock.Now()
	if !iv.End.After(now) {
		return nil, ErrBlockInPast
	}

	s.sweep(ctx, uuid.Nil)

	var created *Block
	err := s.withDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		var err error
		created, err = s.repo.CreateBlock(lockCtx, Block{
			DoctorID:  req.DoctorID,
			StartAt:   iv.Start,
			EndAt:     iv.End,
			AllDay:    req.AllDay,
			Reason:    req.Reason,
			CreatedBy: actor.UserID,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("calendar block created",
		zap.String("block_id", created.ID.String()),
		zap.String("doctor_id", created.DoctorID.String()),
		zap.Time("start_at", created.StartAt),
		zap.Time("end_at", created.EndAt),
	)
	return created, nil
}

func (s *Service) ListBlocks(ctx context.Context, doctorID uuid.UUID, window *interval.Interval) ([]Block, error) {
	if window != nil {
		if err := window.Validate(); err != nil {
			return nil, ErrInvalidRange
		}
	}
	blocks, err := s.repo.ListBlocks(ctx, doctorID, window)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}

func (s *Service) DeleteBlock(ctx context.Context, actor Actor, id uuid.UUID) error {
	b, err := s.repo.GetBlock(ctx, id)
	if err != nil {
		return fmt.Errorf("load block: %w", err)
	}
	if !actor.IsDoctor(b.DoctorID) {
		return ErrNotAllowed
	}
	if err := s.repo.DeleteBlock(ctx, id); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}
