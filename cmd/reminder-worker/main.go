package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careline/callflow/internal/appointment"
	"github.com/careline/callflow/internal/config"
	"github.com/careline/callflow/internal/db"
	"github.com/careline/callflow/internal/redisclient"
)

// maxLead bounds how far ahead the worker looks for appointments that might
// have a reminder attached.
const maxLead = 24 * time.Hour

type reminderNotice struct {
	AppointmentID   string    `json:"appointment_id"`
	PatientName     string    `json:"patient_name"`
	PhoneNumber     string    `json:"phone_number"`
	AppointmentTime time.Time `json:"appointment_time"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running reminder worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 2)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	reminders := redisclient.NewReminderKV(rdb)

	// Run once at startup
	runOnce(rootCtx, repo, reminders, rdb, cfg.ReminderChannel)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, reminders, rdb, cfg.ReminderChannel)
		}
	}
}

// runOnce publishes a notice for every upcoming appointment whose reminder
// lead has elapsed, then clears that reminder so it fires once.
func runOnce(ctx context.Context, repo appointment.Repository, reminders redisclient.ReminderKV, rdb *redis.Client, channel string) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	upcoming, err := repo.ListUpcoming(runCtx, start.Add(maxLead))
	if err != nil {
		log.Printf("reminder run error: %v", err)
		return
	}

	due := 0
	for _, appt := range upcoming {
		lead, set, err := reminders.Get(runCtx, appt.ID)
		if err != nil {
			log.Printf("read reminder for %s: %v", appt.ID, err)
			continue
		}
		if !set || appt.AppointmentTime.Add(-lead).After(start) {
			continue
		}

		notice, err := json.Marshal(reminderNotice{
			AppointmentID:   appt.ID.String(),
			PatientName:     appt.PatientName,
			PhoneNumber:     appt.PhoneNumber,
			AppointmentTime: appt.AppointmentTime,
		})
		if err != nil {
			log.Printf("marshal reminder notice for %s: %v", appt.ID, err)
			continue
		}

		if err := rdb.Publish(runCtx, channel, notice).Err(); err != nil {
			log.Printf("publish reminder for %s: %v", appt.ID, err)
			continue
		}
		if err := reminders.Delete(runCtx, appt.ID); err != nil {
			log.Printf("clear reminder for %s: %v", appt.ID, err)
		}
		due++
	}

	log.Printf("reminder run complete due=%d scanned=%d in %s", due, len(upcoming), time.Since(start))
}
