package notify

import (
	"context"
	"sync"
)

// Level classifies a user-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is what the hosting UI renders as a toast. The sync core never
// renders anything itself.
type Notification struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// Emitter broadcasts notifications to every subscriber. Slow subscribers are
// skipped, never waited on.
type Emitter struct {
	mu   sync.RWMutex
	subs []chan Notification
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe returns a notification channel, removed when ctx is cancelled.
func (e *Emitter) Subscribe(ctx context.Context) <-chan Notification {
	ch := make(chan Notification, 16)

	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(ch)
	}()

	return ch
}

func (e *Emitter) remove(ch chan Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subs {
		if sub == ch {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			close(ch)
			break
		}
	}
}

// Emit broadcasts without blocking.
func (e *Emitter) Emit(n Notification) {
	e.mu.RLock()
	subs := make([]chan Notification, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
		}
	}
}
