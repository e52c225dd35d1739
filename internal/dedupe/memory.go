package dedupe

import (
	"context"
	"sync"
	"time"
)

const memorySweepInterval = 10 * time.Minute

// Memory is an in-process cache. Good enough for a single gateway instance;
// use the redis backend when running more than one.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemory builds the in-process cache and starts its sweeper.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]time.Time),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go m.sweep()
	return m
}

func (m *Memory) Seen(_ context.Context, channel, externalID string) (bool, error) {
	key := Key(channel, externalID)
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.now().After(expiry) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *Memory) Mark(_ context.Context, channel, externalID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[Key(channel, externalID)] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) sweep() {
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for k, expiry := range m.entries {
				if now.After(expiry) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
