package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/homecare-scheduling/internal/app"
	"github.com/hackgods/homecare-scheduling/internal/audit"
	"github.com/hackgods/homecare-scheduling/internal/config"
	"github.com/hackgods/homecare-scheduling/internal/db"
	redisclient "github.com/hackgods/homecare-scheduling/internal/redis"
	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

type seedConfig struct {
	Doctors     int
	Patients    int
	Attendants  int
	Date        string
	StartTime   string
	EndTime     string
	DurationMin int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := app.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	sc := seedConfig{
		Doctors:     getInt("SEED_DOCTORS", 20),
		Patients:    getInt("SEED_PATIENTS", 2000),
		Attendants:  getInt("SEED_ATTENDANTS", 5),
		Date:        getEnv("SEED_DATE", time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")),
		StartTime:   getEnv("SEED_START", "08:00"),
		EndTime:     getEnv("SEED_END", "18:00"),
		DurationMin: getInt("SEED_DURATION_MIN", 30),
	}

	logger.Info("seed starting",
		zap.Int("doctors", sc.Doctors),
		zap.Int("patients", sc.Patients),
		zap.Int("attendants", sc.Attendants),
		zap.String("date", sc.Date),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{}, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	adminIDs, err := seedUsers(ctx, pool, faker, scheduling.RoleAdmin, 1)
	if err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}
	doctorIDs, err := seedUsers(ctx, pool, faker, scheduling.RoleDoctor, sc.Doctors)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	attendantIDs, err := seedUsers(ctx, pool, faker, scheduling.RoleAttendant, sc.Attendants)
	if err != nil {
		logger.Fatal("seed attendants", zap.Error(err))
	}
	patientIDs, err := seedUsers(ctx, pool, faker, scheduling.RolePatient, sc.Patients)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}
	logger.Info("users seeded",
		zap.Int("doctors", len(doctorIDs)),
		zap.Int("attendants", len(attendantIDs)),
		zap.Int("patients", len(patientIDs)),
	)

	recorder := audit.NewRecorder(audit.NewRepository(pool), logger.Named("audit"),
		audit.WithQueueSize(cfg.AuditQueueSize),
	)
	defer recorder.Close()

	// the seeder is the only writer, so an in-process lock is enough
	svc := scheduling.NewService(
		scheduling.NewPgStore(pool),
		redisclient.NewLocalLocker(),
		recorder,
		logger.Named("scheduling"),
	)

	if err := seedOpenings(ctx, svc, adminIDs[0], doctorIDs, sc, logger); err != nil {
		logger.Fatal("seed openings", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role scheduling.Role, count int) ([]int64, error) {
	const batchSize = 500

	ids := make([]int64, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			name := faker.Name()
			email := fmt.Sprintf("%s.%d@%s", strings.ToLower(faker.Username()), i, faker.DomainName())
			batch.Queue(`
				INSERT INTO users (name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
				ON CONFLICT (email) DO NOTHING
				RETURNING id
			`, name, email, role.String())
		}

		results := pool.SendBatch(ctx, batch)
		for i := offset; i < end; i++ {
			var id int64
			err := results.QueryRow().Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				_ = results.Close()
				return nil, fmt.Errorf("insert %s: %w", role, err)
			}
			ids = append(ids, id)
		}
		if err := results.Close(); err != nil {
			return nil, err
		}
	}

	if len(ids) == 0 && count > 0 {
		return nil, fmt.Errorf("no %s rows inserted", role)
	}

	return ids, nil
}

func seedOpenings(ctx context.Context, svc *scheduling.Service, adminID int64, doctorIDs []int64, sc seedConfig, logger *zap.Logger) error {
	admin := scheduling.Requester{ID: adminID, Role: scheduling.RoleAdmin}

	var created, skipped int
	for _, doctorID := range doctorIDs {
		doctorID := doctorID
		res, err := svc.CreateDayOpenings(ctx, scheduling.DayOpenings{
			DoctorID:    &doctorID,
			Date:        sc.Date,
			StartTime:   sc.StartTime,
			EndTime:     sc.EndTime,
			DurationMin: sc.DurationMin,
		}, admin)
		if err != nil {
			return fmt.Errorf("openings for doctor %d: %w", doctorID, err)
		}
		created += len(res.Created)
		skipped += len(res.Skipped)
	}

	logger.Info("openings seeded", zap.Int("created", created), zap.Int("skipped", skipped))
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
