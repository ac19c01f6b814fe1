package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/donation-scheduling/internal/config"
	"github.com/hackgods/donation-scheduling/internal/db"
	"github.com/hackgods/donation-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("seed", cfg.Env, cfg.LogLevel)
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.ApplySchema(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("apply schema")
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedCenters(context.Background(), pool, envInt("SEED_CENTERS", 20)); err != nil {
		log.Fatal().Err(err).Msg("seed centers")
	}
	if err := seedDonors(context.Background(), pool, envInt("SEED_DONORS", 9000)); err != nil {
		log.Fatal().Err(err).Msg("seed donors")
	}

	log.Info().Msg("seed complete")
}

func seedCenters(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding donation centers")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		name := gofakeit.City() + " Donor Center"

		// A quarter of the centers rely on the default capacity.
		var capacity *int
		if gofakeit.Number(1, 4) > 1 {
			c := gofakeit.Number(2, 15)
			capacity = &c
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO donation_centers (id, name, capacity, created_at)
			VALUES ($1, $2, $3, now())
		`, uuid.New(), name, capacity)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("donation centers seeded")
	return nil
}

func seedDonors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding donors")

	const batchSize = 500
	now := time.Now().UTC()

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			hash := donorHash(gofakeit.Email())
			active := gofakeit.Number(1, 20) > 1

			// About a third are first-time donors.
			var lastDonation *time.Time
			donations := 0
			if gofakeit.Number(1, 3) > 1 {
				t := now.AddDate(0, 0, -gofakeit.Number(1, 200))
				lastDonation = &t
				donations = gofakeit.Number(1, 4)
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO donors (hash, active, last_donation_date, total_donations_this_year, created_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (hash) DO NOTHING
			`, hash, active, lastDonation, donations)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("donors seeded")
	}

	return nil
}

// donorHash stands in for the registry's one-way donor identifier.
func donorHash(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
