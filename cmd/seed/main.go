package main

import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/tz"
)

var slotChoices = []int{30, 40, 50, 60}

func main() {
	doctors := flag.Int("doctors", 20, "doctors to create")
	patients := flag.Int("patients", 500, "patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	zone, err := tz.LoadZone(cfg.Timezone)
	if err != nil {
		logger.Fatal("load clinic timezone", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	seedCtx := context.Background()

	doctorIDs, err := seedUsers(seedCtx, pool, faker, "doctor", *doctors)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	logger.Info("doctors seeded", zap.Int("count", len(doctorIDs)))

	if _, err := seedUsers(seedCtx, pool, faker, "patient", *patients); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}
	logger.Info("patients seeded", zap.Int("count", *patients))

	rules := availability.NewPgRepository(pool)
	appts := appointment.NewPgRepository(pool)
	for _, id := range doctorIDs {
		if err := seedCalendar(seedCtx, rules, appts, faker, zone, id); err != nil {
			logger.Fatal("seed calendar", zap.String("doctor_id", id.String()), zap.Error(err))
		}
	}

	logger.Info("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role string, count int) ([]uuid.UUID, error) {
	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, email, full_name, role, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, id, id.String()[:8]+"."+faker.Email(), faker.Name(), role)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// seedCalendar gives a doctor weekday office hours, a slot length and one
// blocked afternoon next week.
func seedCalendar(ctx context.Context, rules *availability.PgRepository, appts *appointment.PgRepository, faker *gofakeit.Faker, zone tz.Zone, doctorID uuid.UUID) error {
	morningStart := availability.TimeOfDay(faker.IntRange(7, 9) * 60)
	afternoonEnd := availability.TimeOfDay(faker.IntRange(16, 19) * 60)

	week := make([]availability.WeeklyRule, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		weekday := d != time.Sunday && d != time.Saturday
		week = append(week, availability.WeeklyRule{
			DoctorID: doctorID,
			Weekday:  d,
			Enabled:  weekday,
			Ranges: []availability.Range{
				{Start: morningStart, End: 12 * 60},
				{Start: 13 * 60, End: afternoonEnd},
			},
		})
	}
	for i := range week {
		if err := week[i].Validate(); err != nil {
			return err
		}
	}
	if err := rules.UpsertRules(ctx, doctorID, week); err != nil {
		return err
	}

	if _, err := rules.UpsertSettings(ctx, availability.Settings{
		DoctorID:    doctorID,
		SlotMinutes: slotChoices[faker.IntRange(0, len(slotChoices)-1)],
	}); err != nil {
		return err
	}

	now := time.Now()
	day := zone.Local(now).StartOfDay().AddDays(faker.IntRange(7, 13))
	reason := faker.Sentence(4)
	_, err := appts.CreateBlock(ctx, appointment.Block{
		DoctorID:  doctorID,
		StartAt:   zone.UTC(day.Add(13 * time.Hour)),
		EndAt:     zone.UTC(day.Add(17 * time.Hour)),
		Reason:    &reason,
		CreatedBy: doctorID,
	}, now)
	return err
}
