package websocket

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/AlibekovAA/crm-realtime/internal/common/clock"
	"github.com/AlibekovAA/crm-realtime/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/metrics"
)

const maxIDAttempts = 3

type Identity struct {
	ID          string
	Email       string
	DisplayName string
	Roles       []string
}

func (i Identity) Public() PublicUser {
	return PublicUser{ID: i.ID, Email: i.Email, DisplayName: i.DisplayName}
}

func (i Identity) clone() *Identity {
	c := i
	c.Roles = slices.Clone(i.Roles)
	return &c
}

// Connection is a point-in-time copy of a registered session.
type Connection struct {
	ID            string
	ConnectedAt   time.Time
	Identity      *Identity
	Subscriptions []string

	transport Transport
}

func (c Connection) ready() bool {
	return c.transport != nil && c.transport.Ready()
}

func (c Connection) closed() bool {
	return c.transport != nil && c.transport.Closed()
}

type connection struct {
	id            string
	transport     Transport
	identity      *Identity
	subscriptions map[string]struct{}
	connectedAt   time.Time
}

func (c *connection) snapshot() Connection {
	subs := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		subs = append(subs, ch)
	}
	slices.Sort(subs)

	var identity *Identity
	if c.identity != nil {
		identity = c.identity.clone()
	}

	return Connection{
		ID:            c.id,
		ConnectedAt:   c.connectedAt,
		Identity:      identity,
		Subscriptions: subs,
		transport:     c.transport,
	}
}

type Stats struct {
	Connections   int `json:"connections"`
	Channels      int `json:"channels"`
	Subscriptions int `json:"subscriptions"`
}

// Registry owns the live connections and the channel index. One lock guards
// both so that a connection's subscription set and the index always agree.
type Registry struct {
	mu            sync.RWMutex
	connections   map[string]*connection
	channels      map[string]map[string]struct{}
	subscriptions int
	ids           crypto.IDGenerator
	clock         clock.Clock
}

func NewRegistry(ids crypto.IDGenerator, clk clock.Clock) *Registry {
	if ids == nil {
		ids = crypto.NewUUIDGenerator()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Registry{
		connections: make(map[string]*connection),
		channels:    make(map[string]map[string]struct{}),
		ids:         ids,
		clock:       clk,
	}
}

func (r *Registry) Register(t Transport) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.ids.NewID()
		if err != nil {
			return Connection{}, err
		}
		if _, exists := r.connections[id]; exists {
			continue
		}

		c := &connection{
			id:            id,
			transport:     t,
			subscriptions: make(map[string]struct{}),
			connectedAt:   r.clock.Now(),
		}
		r.connections[id] = c
		metrics.IncrementActiveConnections()
		return c.snapshot(), nil
	}

	return Connection{}, fmt.Errorf("allocate connection id: %d collisions", maxIDAttempts)
}

func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[id]
	if !ok {
		return Connection{}, false
	}
	return c.snapshot(), true
}

// Remove deletes the connection record. Any channels it is still subscribed to
// are released as well. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return false
	}
	r.releaseLocked(c)
	delete(r.connections, id)
	metrics.DecrementActiveConnections()
	r.publishSizeLocked()
	return true
}

// SetIdentity replaces any identity previously attached to the connection.
func (r *Registry) SetIdentity(id string, identity Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return commonerrors.ErrConnectionNotFound
	}
	c.identity = identity.clone()
	return nil
}

// Subscribe adds channel to the connection and the connection to the channel
// index in one step. It reports whether the pair was new.
func (r *Registry) Subscribe(id, channel string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return false, commonerrors.ErrConnectionNotFound
	}
	if _, exists := c.subscriptions[channel]; exists {
		return false, nil
	}

	c.subscriptions[channel] = struct{}{}
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		r.channels[channel] = members
	}
	members[id] = struct{}{}
	r.subscriptions++
	r.publishSizeLocked()
	return true, nil
}

// Unsubscribe reports whether the pair existed. Unknown channels and
// connections are not errors.
func (r *Registry) Unsubscribe(id, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return false
	}
	if _, exists := c.subscriptions[channel]; !exists {
		return false
	}

	delete(c.subscriptions, channel)
	r.dropFromChannelLocked(channel, id)
	r.publishSizeLocked()
	return true
}

// RemoveEverywhere drops the connection from every channel listed in its own
// subscription set and returns those channels.
func (r *Registry) RemoveEverywhere(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return nil
	}
	released := r.releaseLocked(c)
	r.publishSizeLocked()
	return released
}

// Subscribers returns a snapshot of the ids subscribed to channel.
func (r *Registry) Subscribers(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Connections:   len(r.connections),
		Channels:      len(r.channels),
		Subscriptions: r.subscriptions,
	}
}

func (r *Registry) releaseLocked(c *connection) []string {
	released := make([]string, 0, len(c.subscriptions))
	for channel := range c.subscriptions {
		r.dropFromChannelLocked(channel, c.id)
		released = append(released, channel)
	}
	clear(c.subscriptions)
	return released
}

func (r *Registry) dropFromChannelLocked(channel, id string) {
	members, ok := r.channels[channel]
	if !ok {
		return
	}
	if _, ok := members[id]; !ok {
		return
	}
	delete(members, id)
	r.subscriptions--
	if len(members) == 0 {
		delete(r.channels, channel)
	}
}

func (r *Registry) publishSizeLocked() {
	metrics.SetIndexSize(r.subscriptions, len(r.channels))
}
