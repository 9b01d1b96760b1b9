package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlibekovAA/crm-realtime/internal/common/clock"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
)

var (
	errMockSend   = errors.New("mock transport broken")
	errMockClosed = errors.New("mock transport closed")
)

type mockTransport struct {
	mu          sync.Mutex
	frames      [][]byte
	notReady    bool
	closed      bool
	sendFunc    func(frame []byte) error
	waitingSend int
	trySends    int
}

func (m *mockTransport) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitingSend++
	return m.enqueueLocked(frame)
}

func (m *mockTransport) TrySend(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trySends++
	return m.enqueueLocked(frame)
}

func (m *mockTransport) enqueueLocked(frame []byte) error {
	if m.closed {
		return errMockClosed
	}
	if m.sendFunc != nil {
		if err := m.sendFunc(frame); err != nil {
			return err
		}
	}
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockTransport) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.notReady && !m.closed
}

func (m *mockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) sendCounts() (waiting, try int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitingSend, m.trySends
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) sent() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.frames))
	for _, f := range m.frames {
		var decoded map[string]any
		_ = json.Unmarshal(f, &decoded)
		out = append(out, decoded)
	}
	return out
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type seqIDGenerator struct {
	n atomic.Int64
}

func (g *seqIDGenerator) NewID() (string, error) {
	return fmt.Sprintf("conn-%d", g.n.Add(1)), nil
}

type fixedIDGenerator struct {
	ids []string
	i   int
}

func (g *fixedIDGenerator) NewID() (string, error) {
	id := g.ids[g.i%len(g.ids)]
	g.i++
	return id, nil
}

var testTime = time.Date(2026, 3, 1, 12, 30, 45, 123_000_000, time.UTC)

type testCore struct {
	registry    *Registry
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	clock       *clock.MockClock
}

func setupCore(t *testing.T) testCore {
	t.Helper()
	log := logger.NewWithWriter(io.Discard, "test", "ERROR")
	clk := clock.NewMockClock(testTime)
	registry := NewRegistry(&seqIDGenerator{}, clk)
	dispatcher := NewDispatcher(registry, clk, log)
	return testCore{
		registry:    registry,
		dispatcher:  dispatcher,
		broadcaster: NewBroadcaster(registry, dispatcher, clk, log),
		clock:       clk,
	}
}

func mustRegister(t *testing.T, r *Registry, tr Transport) string {
	t.Helper()
	conn, err := r.Register(tr)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return conn.ID
}

func mustSubscribe(t *testing.T, r *Registry, id, channel string) {
	t.Helper()
	if _, err := r.Subscribe(id, channel); err != nil {
		t.Fatalf("subscribe %s to %s: %v", id, channel, err)
	}
}

// assertConsistent checks that every connection's subscription set matches
// the channel index exactly.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for id, c := range r.connections {
		for ch := range c.subscriptions {
			count++
			if _, ok := r.channels[ch][id]; !ok {
				t.Errorf("connection %s lists %s but index does not", id, ch)
			}
		}
	}
	for ch, members := range r.channels {
		if len(members) == 0 {
			t.Errorf("channel %s retained with no subscribers", ch)
		}
		for id := range members {
			c, ok := r.connections[id]
			if !ok {
				t.Errorf("index %s references unknown connection %s", ch, id)
				continue
			}
			if _, ok := c.subscriptions[ch]; !ok {
				t.Errorf("index %s lists %s but connection does not", ch, id)
			}
		}
	}
	if count != r.subscriptions {
		t.Errorf("subscription counter %d, actual %d", r.subscriptions, count)
	}
}
