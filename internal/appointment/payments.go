package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PaymentOutcome string

const (
	PaymentConfirmed        PaymentOutcome = "confirmed"
	PaymentAlreadyConfirmed PaymentOutcome = "already_confirmed"
	PaymentFailed           PaymentOutcome = "failed"
)

type PaymentResult struct {
	AppointmentID uuid.UUID      `json:"appointment_id"`
	Outcome       PaymentOutcome `json:"outcome"`
	Code          string         `json:"code,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// ApplyPayments confirms each paid appointment and reports per id. Re-sent
// ids that are already confirmed are reported without repeating side
// effects.
func (s *Service) ApplyPayments(ctx context.Context, ids []uuid.UUID) []PaymentResult {
	results := make([]PaymentResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.applyPayment(ctx, id))
	}
	return results
}

func (s *Service) applyPayment(ctx context.Context, id uuid.UUID) PaymentResult {
	res := PaymentResult{AppointmentID: id}

	if appt, err := s.repo.GetAppointmentByID(ctx, id); err == nil && appt.Status == StatusConfirmed {
		res.Outcome = PaymentAlreadyConfirmed
		return res
	}

	_, err := s.Confirm(ctx, SystemActor(), id)
	if err == nil {
		res.Outcome = PaymentConfirmed
		return res
	}

	res.Outcome = PaymentFailed
	res.Code = Code(err)
	if res.Code == "" {
		res.Code = "internal_error"
		res.Error = "internal error"
	} else {
		res.Error = err.Error()
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		s.logger.Warn("payment application failed",
			zap.String("appointment_id", id.String()), zap.Error(err))
	}
	return res
}
