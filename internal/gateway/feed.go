package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"pos-sync/internal/models"
)

// ChangeEvent is one row-level notification from the backend's change feed.
type ChangeEvent struct {
	Event  string       `json:"event"` // "insert" or "update"
	Table  string       `json:"table"`
	Record models.Order `json:"record"`
}

const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
)

// ChangeStream is a cancellable change feed subscription. The sync engine owns
// exactly one per tenant session.
type ChangeStream interface {
	Events() <-chan ChangeEvent
	Unsubscribe()
}

// Subscription consumes the backend's change topic and forwards events scoped
// to one tenant.
type Subscription struct {
	events chan ChangeEvent
	cancel context.CancelFunc
	reader *kafka.Reader
	once   sync.Once
}

func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

// Unsubscribe stops the consumer and closes the event channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.reader.Close()
	})
}

// SubscribeChanges opens a change feed subscription for the active tenant.
// Each terminal consumes with its own group id so every terminal sees every
// change.
func (g *Gateway) SubscribeChanges(ctx context.Context, tenantID string) (ChangeStream, error) {
	if len(g.feedBrokers) == 0 {
		return nil, fmt.Errorf("change feed not configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  g.feedBrokers,
		Topic:    g.feedTopic,
		GroupID:  "pos-terminal-" + tenantID + "-" + uuid.NewString(),
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	g.log.LogFeed("SUBSCRIBE", "change feed opened for tenant "+tenantID)

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan ChangeEvent, 32),
		cancel: cancel,
		reader: reader,
	}

	go func() {
		defer close(sub.events)
		for {
			msg, err := reader.ReadMessage(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				g.log.Error("FEED", fmt.Sprintf("read change feed: %v", err))
				return
			}

			var event ChangeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				g.log.Warn("FEED", fmt.Sprintf("malformed change event: %v", err))
				continue
			}

			// The topic is shared; drop anything outside the active tenant.
			if event.Record.TenantID != tenantID {
				continue
			}

			select {
			case sub.events <- event:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return sub, nil
}
