package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
)

var ErrSettingsNotFound = fmt.Errorf("%w: doctor settings", apperror.ErrNotFound)

// Repository persists weekly rules and doctor settings.
type Repository interface {
	ListRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error)
	// UpsertRules writes every rule in one transaction. Weekdays not present
	// are left as they are.
	UpsertRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) error
	DeleteRules(ctx context.Context, doctorID uuid.UUID) (int64, error)

	GetSettings(ctx context.Context, doctorID uuid.UUID) (*Settings, error)
	UpsertSettings(ctx context.Context, s Settings) (*Settings, error)
}

func isSettingsNotFound(err error) bool {
	return errors.Is(err, ErrSettingsNotFound)
}
