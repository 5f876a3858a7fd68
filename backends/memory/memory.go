// Package memory implements the backend contract in-process. It exists
// for tests and single-node embedded deployments; the consume path mirrors
// the Redis script's integer math so both backends agree on semantics.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fluxgate/fluxgate/backends"
)

type bandState struct {
	tokens          int64
	lastRefillNanos int64
	expiresAt       time.Time
}

type Backend struct {
	locks   sync.Map // map[string]*sync.Mutex, one per bucket base key
	mu      sync.RWMutex
	buckets map[string]*bandState

	subMu   sync.Mutex
	subs    map[string][]*subscription
	closed  bool
	cleanup chan struct{}
}

// New initializes an in-memory backend. A background sweeper drops
// expired band state every minute until Close.
func New() *Backend {
	b := &Backend{
		buckets: make(map[string]*bandState),
		subs:    make(map[string][]*subscription),
		cleanup: make(chan struct{}),
	}
	go b.sweep()
	return b
}

// getLock returns the mutex serializing consumes for one bucket base key.
func (m *Backend) getLock(baseKey string) *sync.Mutex {
	actual, _ := m.locks.LoadOrStore(baseKey, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (m *Backend) TryConsume(ctx context.Context, baseKey string, bands []backends.BandQuota, permits int64) (backends.BucketState, error) {
	if err := validateConsume(baseKey, bands, permits); err != nil {
		return backends.BucketState{}, err
	}
	if err := ctx.Err(); err != nil {
		return backends.BucketState{}, err
	}

	lock := m.getLock(baseKey)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	nowMicros := now.UnixMicro()

	// first pass: compute refilled availability per band, reject if any
	// band is short; integer math in microseconds like the Redis script
	avail := make([]int64, len(bands))
	var minAvail int64 = -1
	var maxWaitMicros int64
	rejected := false
	for i, band := range bands {
		tokens := band.Capacity
		if state, ok := m.lookup(baseKey, band.Label, now); ok {
			elapsed := nowMicros - state.lastRefillNanos/1000
			if elapsed < 0 {
				elapsed = 0
			}
			windowMicros := band.Window.Microseconds()
			tokens = state.tokens + elapsed*band.Capacity/windowMicros
			if tokens > band.Capacity {
				tokens = band.Capacity
			}
		}
		avail[i] = tokens
		if tokens < permits {
			rejected = true
			windowMicros := band.Window.Microseconds()
			wait := ((permits-tokens)*windowMicros + band.Capacity - 1) / band.Capacity
			if wait > maxWaitMicros {
				maxWaitMicros = wait
			}
		}
		if minAvail < 0 || tokens < minAvail {
			minAvail = tokens
		}
	}

	if rejected {
		// read-only rejection: stored state stays untouched
		return backends.BucketState{
			Consumed:    false,
			Remaining:   minAvail,
			WaitNanos:   maxWaitMicros * int64(time.Microsecond),
			ResetMillis: (nowMicros + maxWaitMicros) / 1000,
		}, nil
	}

	// second pass: debit every band
	var minLeft int64 = -1
	var resetWindowMicros int64
	for i, band := range bands {
		left := avail[i] - permits
		m.store(baseKey, band.Label, &bandState{
			tokens:          left,
			lastRefillNanos: nowMicros * 1000,
			expiresAt:       now.Add(backends.BucketTTL(band.Window)),
		})
		if minLeft < 0 || left < minLeft {
			minLeft = left
			resetWindowMicros = band.Window.Microseconds()
		}
	}

	return backends.BucketState{
		Consumed:    true,
		Remaining:   minLeft,
		WaitNanos:   0,
		ResetMillis: (nowMicros + resetWindowMicros) / 1000,
	}, nil
}

func (m *Backend) lookup(baseKey, label string, now time.Time) (*bandState, bool) {
	m.mu.RLock()
	state, ok := m.buckets[baseKey+":"+label]
	m.mu.RUnlock()
	if !ok || now.After(state.expiresAt) {
		return nil, false
	}
	return state, true
}

func (m *Backend) store(baseKey, label string, state *bandState) {
	m.mu.Lock()
	m.buckets[baseKey+":"+label] = state
	m.mu.Unlock()
}

func (m *Backend) Publish(ctx context.Context, channel, message string) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return ErrBackendClosed
	}
	for _, sub := range m.subs[channel] {
		select {
		case sub.messages <- message:
		default:
			// slow subscriber; drop rather than block the publisher
		}
	}
	return nil
}

func (m *Backend) Subscribe(ctx context.Context, channel string) (backends.Subscription, error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return nil, ErrBackendClosed
	}
	sub := &subscription{
		backend:  m,
		channel:  channel,
		messages: make(chan string, 16),
	}
	m.subs[channel] = append(m.subs[channel], sub)
	return sub, nil
}

func (m *Backend) SupportsPubSub() bool {
	return true
}

func (m *Backend) Ping(ctx context.Context) error {
	return nil
}

func (m *Backend) Close() error {
	m.subMu.Lock()
	if m.closed {
		m.subMu.Unlock()
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.messages) })
		}
	}
	m.subs = make(map[string][]*subscription)
	m.subMu.Unlock()

	close(m.cleanup)

	m.mu.Lock()
	m.buckets = make(map[string]*bandState)
	m.mu.Unlock()
	m.locks = sync.Map{}
	return nil
}

func (m *Backend) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			m.mu.Lock()
			for key, state := range m.buckets {
				if now.After(state.expiresAt) {
					delete(m.buckets, key)
				}
			}
			m.mu.Unlock()
		case <-m.cleanup:
			return
		}
	}
}

type subscription struct {
	backend  *Backend
	channel  string
	messages chan string
	once     sync.Once
}

func (s *subscription) Messages() <-chan string {
	return s.messages
}

func (s *subscription) Close() error {
	s.backend.subMu.Lock()
	defer s.backend.subMu.Unlock()
	subs := s.backend.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			s.backend.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.once.Do(func() { close(s.messages) })
	return nil
}

func validateConsume(baseKey string, bands []backends.BandQuota, permits int64) error {
	if baseKey == "" {
		return ErrEmptyKey
	}
	if len(bands) == 0 {
		return ErrNoBands
	}
	if permits < 1 {
		return NewInvalidPermitsError(permits)
	}
	return nil
}
