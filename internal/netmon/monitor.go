package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Transition is one connectivity change.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor tracks connectivity and fans transitions out to subscribers. The
// hosting platform feeds it through SetOnline when it has native connectivity
// events; StartProbe is an optional fallback poller.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   []chan Transition
}

func New(initialOnline bool) *Monitor {
	return &Monitor{online: initialOnline}
}

// IsOnline returns the current connectivity signal.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity change. Subscribers are only notified on an
// actual transition, repeated identical reports are ignored.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan Transition, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	t := Transition{Online: online, At: time.Now()}
	for _, ch := range subs {
		// Non-blocking send so a slow subscriber cannot stall the monitor.
		select {
		case ch <- t:
		default:
		}
	}
}

// Subscribe returns a channel of transitions. The subscription is removed when
// ctx is cancelled.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Transition {
	ch := make(chan Transition, 4)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.remove(ch)
	}()

	return ch
}

func (m *Monitor) remove(ch chan Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			break
		}
	}
}

// StartProbe polls probeURL until ctx is cancelled and feeds the result into
// SetOnline. Any HTTP response counts as connectivity; only transport errors
// mean offline.
func (m *Monitor) StartProbe(ctx context.Context, probeURL string, interval time.Duration, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
				if err != nil {
					continue
				}
				resp, err := client.Do(req)
				if err != nil {
					m.SetOnline(false)
					continue
				}
				resp.Body.Close()
				m.SetOnline(true)
			}
		}
	}()
}
