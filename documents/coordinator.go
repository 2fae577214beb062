// Package documents owns one replicated document per room. It merges the
// updates members send, serves full-state snapshots to late joiners and
// evicts documents of deleted or long-idle rooms.
package documents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"devsync-server/core"
	"devsync-server/crdt"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// ActivityChecker reports whether a room still has someone present.
type ActivityChecker interface {
	IsActive(roomID string) bool
}

type Options struct {
	Engine        crdt.Engine
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// Activity keeps documents of rooms with presence from being swept.
	Activity ActivityChecker
	Clock    clock.Clock
}

type document struct {
	mu       sync.Mutex
	doc      crdt.Doc
	lastUsed time.Time
	// evicted is set under mu once the document left the coordinator map;
	// holders of a stale pointer must look the room up again.
	evicted bool
}

type Coordinator struct {
	engine        crdt.Engine
	idleTimeout   time.Duration
	sweepInterval time.Duration
	activity      ActivityChecker
	clock         clock.Clock

	mu   sync.Mutex
	docs map[string]*document
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		engine:        opts.Engine,
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		activity:      opts.Activity,
		clock:         opts.Clock,
		docs:          make(map[string]*document),
	}
	if c.engine == nil {
		c.engine = crdt.YjsEngine{}
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = time.Minute
	}
	return c
}

// acquire returns the room's document, creating it on first use.
func (c *Coordinator) acquire(roomID string) *document {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.docs[roomID]
	if !ok {
		d = &document{doc: c.engine.NewDoc()}
		c.docs[roomID] = d
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"engine":  c.engine.Name(),
		}).Debug("Document created")
	}
	d.lastUsed = c.clock.Now()
	return d
}

// withDocument runs fn with the room's document locked.
func (c *Coordinator) withDocument(roomID string, fn func(crdt.Doc) error) error {
	for {
		d := c.acquire(roomID)
		d.mu.Lock()
		if d.evicted {
			d.mu.Unlock()
			continue
		}
		err := fn(d.doc)
		d.mu.Unlock()
		return err
	}
}

// ApplyUpdate merges update into the room's document.
func (c *Coordinator) ApplyUpdate(roomID string, update []byte) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", core.ErrInvalidPayload)
	}
	err := c.withDocument(roomID, func(doc crdt.Doc) error {
		return doc.Apply(update)
	})
	if errors.Is(err, crdt.ErrMalformedUpdate) {
		return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return err
}

// Snapshot encodes the room's full merged state.
func (c *Coordinator) Snapshot(roomID string) ([]byte, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", core.ErrInvalidPayload)
	}
	var state []byte
	err := c.withDocument(roomID, func(doc crdt.Doc) error {
		var err error
		state, err = doc.Encode()
		return err
	})
	return state, err
}

// Content returns the visible value without creating a document.
func (c *Coordinator) Content(roomID string) (string, bool) {
	c.mu.Lock()
	d, ok := c.docs[roomID]
	c.mu.Unlock()
	if !ok {
		return "", false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.evicted {
		return "", false
	}
	return d.doc.Content(), true
}

// Evict drops the room's document. It reports whether one existed.
func (c *Coordinator) Evict(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.docs[roomID]
	if !ok {
		return false
	}
	c.evictLocked(roomID, d)
	return true
}

func (c *Coordinator) evictLocked(roomID string, d *document) {
	d.mu.Lock()
	d.evicted = true
	d.mu.Unlock()
	delete(c.docs, roomID)
}

// Rooms returns the ids of rooms holding a document, sorted.
func (c *Coordinator) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms := make([]string, 0, len(c.docs))
	for roomID := range c.docs {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// Sweep evicts documents untouched for longer than the idle timeout whose
// room has nobody present, and returns their room ids.
func (c *Coordinator) Sweep() []string {
	if c.idleTimeout <= 0 {
		return nil
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []string
	for roomID, d := range c.docs {
		if now.Sub(d.lastUsed) < c.idleTimeout {
			continue
		}
		if c.activity != nil && c.activity.IsActive(roomID) {
			continue
		}
		c.evictLocked(roomID, d)
		evicted = append(evicted, roomID)
	}
	sort.Strings(evicted)
	if len(evicted) > 0 {
		logrus.WithField("rooms", evicted).Info("Evicted idle documents")
	}
	return evicted
}

// Run sweeps every sweep interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := c.clock.Ticker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}
