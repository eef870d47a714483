// Package availability expands weekly templates into bookable slots and
// manages the templates and per-doctor slot settings.
package availability

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/tz"
)

var (
	ErrInvalidWindow       = fmt.Errorf("%w: window end must be after its start", apperror.ErrInvalidInterval)
	ErrWindowTooLarge      = fmt.Errorf("%w: window is too large", apperror.ErrInvalidInterval)
	ErrInvalidSlotDuration = fmt.Errorf("%w: slot duration must be whole minutes between %d and %d", apperror.ErrValidation, MinSlotMinutes, MaxSlotMinutes)
)

// Sweeper removes expired holds before availability is computed.
type Sweeper interface {
	SweepExpiredHolds(ctx context.Context) (int64, error)
}

type Options struct {
	Zone        tz.Zone
	Clock       clock.Clock
	DefaultSlot time.Duration
	MaxWindow   time.Duration
	Sweeper     Sweeper
	Logger      *zap.Logger
}

type Service struct {
	repo    Repository
	checker interval.Checker
	opts    Options
	logger  *zap.Logger
}

func NewService(repo Repository, checker interval.Checker, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.DefaultSlot <= 0 {
		opts.DefaultSlot = 50 * time.Minute
	}
	if opts.MaxWindow <= 0 {
		opts.MaxWindow = 31 * 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, checker: checker, opts: opts, logger: logger}
}

// SetSweeper wires the hold sweeper once the reservation engine exists.
func (s *Service) SetSweeper(sw Sweeper) {
	s.opts.Sweeper = sw
}

// AvailableSlots returns the bookable slots of a doctor in [from, to),
// ascending by start. slot == 0 uses the doctor's configured duration.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time, slot time.Duration) ([]interval.Interval, error) {
	if !to.After(from) {
		return nil, ErrInvalidWindow
	}
	if to.Sub(from) > s.opts.MaxWindow {
		return nil, fmt.Errorf("%w: at most %s", ErrWindowTooLarge, s.opts.MaxWindow)
	}

	slot, err := s.SlotDuration(ctx, doctorID, slot)
	if err != nil {
		return nil, err
	}

	s.sweep(ctx)

	rules, err := s.repo.ListRules(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load weekly rules: %w", err)
	}

	now := s.opts.Clock.Now()
	window := interval.Interval{Start: from.UTC(), End: to.UTC()}
	commitments, err := s.checker.Blocking(ctx, doctorID, window, now)
	if err != nil {
		return nil, fmt.Errorf("load commitments: %w", err)
	}

	zone := s.opts.Zone
	busy := make([]Candidate, 0, len(commitments))
	for _, c := range commitments {
		busy = append(busy, Candidate{Start: zone.Local(c.Interval.Start), End: zone.Local(c.Interval.End)})
	}
	localNow := zone.Local(now)

	var result []interval.Interval
	for cand := range Expand(rules, zone.Local(from), zone.Local(to), slot) {
		if !cand.End.After(localNow) {
			continue
		}
		if slices.ContainsFunc(busy, cand.overlaps) {
			continue
		}
		result = append(result, interval.Interval{Start: zone.UTC(cand.Start), End: zone.UTC(cand.End)})
	}

	slices.SortFunc(result, func(a, b interval.Interval) int {
		return a.Start.Compare(b.Start)
	})
	return result, nil
}

// SlotDuration resolves the slot length: an explicit override, then the
// doctor's settings, then the configured default.
func (s *Service) SlotDuration(ctx context.Context, doctorID uuid.UUID, override time.Duration) (time.Duration, error) {
	if override != 0 {
		if !ValidSlotDuration(override) {
			return 0, ErrInvalidSlotDuration
		}
		return override, nil
	}
	settings, err := s.repo.GetSettings(ctx, doctorID)
	if err != nil {
		if isSettingsNotFound(err) {
			return s.opts.DefaultSlot, nil
		}
		return 0, fmt.Errorf("load doctor settings: %w", err)
	}
	return time.Duration(settings.SlotMinutes) * time.Minute, nil
}

func (s *Service) sweep(ctx context.Context) {
	if s.opts.Sweeper == nil {
		return
	}
	if _, err := s.opts.Sweeper.SweepExpiredHolds(ctx); err != nil {
		s.logger.Warn("sweep expired holds before availability failed", zap.Error(err))
	}
}

func (s *Service) ListWeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	rules, err := s.repo.ListRules(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list weekly rules: %w", err)
	}
	return rules, nil
}

// UpsertWeeklyRules validates every rule before writing any of them.
func (s *Service) UpsertWeeklyRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) ([]WeeklyRule, error) {
	seen := make(map[time.Weekday]bool, len(rules))
	for i := range rules {
		rules[i].DoctorID = doctorID
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
		if seen[rules[i].Weekday] {
			return nil, fmt.Errorf("%w: weekday %d appears twice", apperror.ErrValidation, rules[i].Weekday)
		}
		seen[rules[i].Weekday] = true
	}
	if err := s.repo.UpsertRules(ctx, doctorID, rules); err != nil {
		return nil, fmt.Errorf("save weekly rules: %w", err)
	}
	s.logger.Info("weekly rules updated",
		zap.String("doctor_id", doctorID.String()),
		zap.Int("rules", len(rules)),
	)
	return s.ListWeeklyRules(ctx, doctorID)
}

func (s *Service) ResetWeeklyRules(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	n, err := s.repo.DeleteRules(ctx, doctorID)
	if err != nil {
		return 0, fmt.Errorf("reset weekly rules: %w", err)
	}
	return n, nil
}

// GetSettings returns the stored settings or the defaults when none exist.
func (s *Service) GetSettings(ctx context.Context, doctorID uuid.UUID) (*Settings, error) {
	settings, err := s.repo.GetSettings(ctx, doctorID)
	if err != nil {
		if isSettingsNotFound(err) {
			return &Settings{DoctorID: doctorID, SlotMinutes: int(s.opts.DefaultSlot / time.Minute)}, nil
		}
		return nil, fmt.Errorf("get doctor settings: %w", err)
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, doctorID uuid.UUID, slotMinutes int) (*Settings, error) {
	if slotMinutes < MinSlotMinutes || slotMinutes > MaxSlotMinutes {
		return nil, ErrInvalidSlotDuration
	}
	saved, err := s.repo.UpsertSettings(ctx, Settings{DoctorID: doctorID, SlotMinutes: slotMinutes})
	if err != nil {
		return nil, fmt.Errorf("save doctor settings: %w", err)
	}
	return saved, nil
}
