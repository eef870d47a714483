package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
)

type PgRepository struct {
	db db.DB
}

func NewPgRepository(conn db.DB) *PgRepository {
	return &PgRepository{db: conn}
}

func scanRule(row pgx.Row) (*WeeklyRule, error) {
	var r WeeklyRule
	var weekday int16
	var raw []byte

	if err := row.Scan(&r.DoctorID, &weekday, &r.Enabled, &raw, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Weekday = time.Weekday(weekday)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.Ranges); err != nil {
			return nil, fmt.Errorf("decode ranges for weekday %d: %w", weekday, err)
		}
	}
	return &r, nil
}

func scanSettings(row pgx.Row) (*Settings, error) {
	var s Settings
	err := row.Scan(&s.DoctorID, &s.SlotMinutes, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) ListRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT doctor_id, weekday, enabled, ranges, updated_at
		FROM availability_rules
		WHERE doctor_id = $1
		ORDER BY weekday
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list weekly rules: %w", err)
	}
	defer rows.Close()

	var result []WeeklyRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) UpsertRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) error {
	return db.InTx(ctx, r.db, pgx.ReadCommitted, func(tx pgx.Tx) error {
		for _, rule := range rules {
			ranges := rule.Ranges
			if ranges == nil {
				ranges = []Range{}
			}
			raw, err := json.Marshal(ranges)
			if err != nil {
				return fmt.Errorf("encode ranges: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO availability_rules (doctor_id, weekday, enabled, ranges, updated_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (doctor_id, weekday)
				DO UPDATE SET enabled = EXCLUDED.enabled,
				              ranges = EXCLUDED.ranges,
				              updated_at = now()
			`, doctorID, int16(rule.Weekday), rule.Enabled, raw)
			if err != nil {
				return fmt.Errorf("upsert weekly rule %d: %w", rule.Weekday, err)
			}
		}
		return nil
	})
}

func (r *PgRepository) DeleteRules(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM availability_rules WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, fmt.Errorf("delete weekly rules: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) GetSettings(ctx context.Context, doctorID uuid.UUID) (*Settings, error) {
	row := r.db.QueryRow(ctx, `
		SELECT doctor_id, slot_minutes, updated_at
		FROM doctor_settings
		WHERE doctor_id = $1
	`, doctorID)
	return scanSettings(row)
}

func (r *PgRepository) UpsertSettings(ctx context.Context, s Settings) (*Settings, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO doctor_settings (doctor_id, slot_minutes, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (doctor_id)
		DO UPDATE SET slot_minutes = EXCLUDED.slot_minutes, updated_at = now()
		RETURNING doctor_id, slot_minutes, updated_at
	`, s.DoctorID, s.SlotMinutes)
	return scanSettings(row)
}
