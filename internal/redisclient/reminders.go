package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReminderKV stores the reminder lead time chosen for an appointment, keyed by
// appointment id. It replaces the browser-local storage the dashboard used, so
// the reminder worker can see reminders regardless of which client set them.
type ReminderKV interface {
	Get(ctx context.Context, id uuid.UUID) (time.Duration, bool, error)
	Set(ctx context.Context, id uuid.UUID, lead time.Duration) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type redisReminderKV struct {
	client *redis.Client
}

func NewReminderKV(client *redis.Client) ReminderKV {
	return &redisReminderKV{client: client}
}

func reminderKey(id uuid.UUID) string {
	return fmt.Sprintf("reminder:%s", id.String())
}

func (r *redisReminderKV) Get(ctx context.Context, id uuid.UUID) (time.Duration, bool, error) {
	val, err := r.client.Get(ctx, reminderKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get reminder for %s: %w", id, err)
	}
	lead, err := time.ParseDuration(val)
	if err != nil {
		return 0, false, fmt.Errorf("parse reminder lead for %s: %w", id, err)
	}
	return lead, true, nil
}

func (r *redisReminderKV) Set(ctx context.Context, id uuid.UUID, lead time.Duration) error {
	if lead <= 0 {
		return fmt.Errorf("reminder lead must be positive, got %s", lead)
	}
	if err := r.client.Set(ctx, reminderKey(id), lead.String(), 0).Err(); err != nil {
		return fmt.Errorf("set reminder for %s: %w", id, err)
	}
	return nil
}

func (r *redisReminderKV) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, reminderKey(id)).Err(); err != nil {
		return fmt.Errorf("delete reminder for %s: %w", id, err)
	}
	return nil
}
