package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/callflow/internal/appointment"
	"github.com/careline/callflow/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	id UUID PRIMARY KEY,
	patient_name TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	appointment_time TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	notes TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_appointments_time ON appointments (appointment_time);
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	count := flag.Int("count", 25, "number of appointments to create")
	flag.Parse()

	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(context.Background(), schema); err != nil {
		log.Fatalf("create schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedAppointments(context.Background(), pool, *count); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d appointments", count)

	noteOptions := []string{
		"Annual check-up",
		"Follow-up visit",
		"Blood work review",
		"New patient consultation",
		"Prescription renewal",
		"Vaccination",
	}

	statuses := []appointment.Status{
		appointment.StatusPending,
		appointment.StatusPending,
		appointment.StatusPending,
		appointment.StatusConfirmed,
		appointment.StatusCancelled,
		appointment.StatusRescheduled,
	}

	for i := 0; i < count; i++ {
		var notes *string
		if gofakeit.Bool() {
			n := noteOptions[gofakeit.Number(0, len(noteOptions)-1)]
			notes = &n
		}

		// Spread appointments over the next two weeks, on the half hour.
		offset := time.Duration(gofakeit.Number(1, 14*24)) * time.Hour
		when := time.Now().Add(offset).Truncate(30 * time.Minute)

		status := statuses[gofakeit.Number(0, len(statuses)-1)]

		_, err := pool.Exec(ctx, `
			INSERT INTO appointments (id, patient_name, phone_number, appointment_time, status, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, uuid.New(), gofakeit.Name(), gofakeit.Phone(), when, status, notes)
		if err != nil {
			return fmt.Errorf("insert appointment %d: %w", i, err)
		}
	}

	return nil
}
