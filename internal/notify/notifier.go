package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/tz"
)

var ErrContactNotFound = fmt.Errorf("%w: contact", apperror.ErrNotFound)

type Contact struct {
	Email string
	Name  string
}

// Directory resolves user ids to email contacts.
type Directory interface {
	ContactFor(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// PgDirectory reads contacts from the users table.
type PgDirectory struct {
	db db.DB
}

func NewPgDirectory(conn db.DB) *PgDirectory {
	return &PgDirectory{db: conn}
}

func (d *PgDirectory) ContactFor(ctx context.Context, userID uuid.UUID) (Contact, error) {
	var c Contact
	err := d.db.QueryRow(ctx, `SELECT email, full_name FROM users WHERE id = $1`, userID).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrContactNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("load contact: %w", err)
	}
	return c, nil
}

// Notifier emails the doctor and the patient of an appointment.
type Notifier struct {
	sender EmailSender
	dir    Directory
	zone   tz.Zone
	logger *zap.Logger
}

func NewNotifier(sender EmailSender, dir Directory, zone tz.Zone, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, dir: dir, zone: zone, logger: logger}
}

func (n *Notifier) NotifyConfirmed(ctx context.Context, appt appointment.Appointment) error {
	when := n.describe(appt.StartAt, appt.EndAt)
	return n.sendAll(ctx, appt, "Appointment confirmed", func(c Contact) string {
		return lines(
			fmt.Sprintf("Hello %s,", c.Name),
			fmt.Sprintf("Your appointment on %s is confirmed.", when),
			meetingLine(appt),
		)
	})
}

func (n *Notifier) NotifyRescheduled(ctx context.Context, appt appointment.Appointment, oldStart, oldEnd time.Time) error {
	before := n.describe(oldStart, oldEnd)
	after := n.describe(appt.StartAt, appt.EndAt)
	return n.sendAll(ctx, appt, "Appointment rescheduled", func(c Contact) string {
		return lines(
			fmt.Sprintf("Hello %s,", c.Name),
			fmt.Sprintf("Your appointment on %s was moved to %s.", before, after),
			meetingLine(appt),
		)
	})
}

func (n *Notifier) NotifyReminder(ctx context.Context, appt appointment.Appointment) error {
	when := n.describe(appt.StartAt, appt.EndAt)
	return n.sendAll(ctx, appt, "Appointment reminder", func(c Contact) string {
		return lines(
			fmt.Sprintf("Hello %s,", c.Name),
			fmt.Sprintf("This is a reminder of your appointment on %s.", when),
			meetingLine(appt),
		)
	})
}

// sendAll emails every participant. It fails when any delivery fails.
func (n *Notifier) sendAll(ctx context.Context, appt appointment.Appointment, subject string, body func(Contact) string) error {
	recipients := []uuid.UUID{appt.DoctorID}
	if appt.PatientID != nil {
		recipients = append(recipients, *appt.PatientID)
	}

	var errs []error
	for _, userID := range recipients {
		c, err := n.dir.ContactFor(ctx, userID)
		if errors.Is(err, ErrContactNotFound) {
			n.logger.Warn("no contact for participant, skipping",
				zap.String("appointment_id", appt.ID.String()),
				zap.String("user_id", userID.String()),
			)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.sender.Send(ctx, EmailMessage{
			To:      c.Email,
			ToName:  c.Name,
			Subject: subject,
			Body:    body(c),
		}); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) describe(start, end time.Time) string {
	s, e := n.zone.Local(start), n.zone.Local(end)
	sh, sm, _ := s.Clock()
	eh, em, _ := e.Clock()
	y, mo, d := s.Date()
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d-%02d:%02d (%s)", y, int(mo), d, sh, sm, eh, em, n.zone)
}

func meetingLine(appt appointment.Appointment) string {
	if appt.MeetingURL == nil || *appt.MeetingURL == "" {
		return ""
	}
	return "Join: " + *appt.MeetingURL
}

func lines(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}
