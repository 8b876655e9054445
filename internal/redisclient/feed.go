package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const appointmentChannel = "appointments:changes"

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent describes one remote mutation of the appointment collection.
type ChangeEvent struct {
	Kind          ChangeKind `json:"kind"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
}

// Feed is the realtime change-notification channel for the appointment
// collection. Every process that mutates appointments publishes here; every
// store instance subscribes here.
type Feed interface {
	Publish(ctx context.Context, ev ChangeEvent) error
	// Subscribe invokes fn for every change event until the returned disposer
	// is called. The disposer is safe to call more than once.
	Subscribe(ctx context.Context, fn func(ChangeEvent)) (func(), error)
}

type redisFeed struct {
	client *redis.Client
}

// NewAppointmentFeed creates a Feed backed by a Redis pub/sub channel.
func NewAppointmentFeed(client *redis.Client) Feed {
	return &redisFeed{client: client}
}

func (f *redisFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := f.client.Publish(ctx, appointmentChannel, data).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

func (f *redisFeed) Subscribe(ctx context.Context, fn func(ChangeEvent)) (func(), error) {
	sub := f.client.Subscribe(ctx, appointmentChannel)

	// Force the subscription to be established before returning so a caller
	// cannot miss events it caused right after subscribing.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", appointmentChannel, err)
	}

	go func() {
		for msg := range sub.Channel() {
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("drop malformed change event: %v", err)
				continue
			}
			fn(ev)
		}
	}()

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				log.Printf("close appointment feed subscription: %v", err)
			}
		})
	}
	return dispose, nil
}
