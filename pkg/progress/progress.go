// Package progress broadcasts a render's ProgressSnapshot stream to
// out-of-process observers over a websocket, additive to the in-process
// callback pkg/render already drives (§6). Grounded on the teacher's
// web.Logs handler: same upgrade-then-loop-writing-from-a-subscribed-feed
// shape, generalized from a single global log feed to one feed per render
// run, and the fan-out itself grounded on pkg/log.Logger's Subscribe
// (a registry of per-connection channels fed by a single broadcaster).
package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"clipforge/pkg/render"
)

// Feed delivers ProgressSnapshots to one subscriber. Cancel stops
// deliveries and releases the subscription.
type Feed <-chan render.ProgressSnapshot
type feed chan render.ProgressSnapshot

// CancelFunc unsubscribes a Feed obtained from Broadcaster.Subscribe.
type CancelFunc func()

// Broadcaster fans out one render run's progress snapshots to any number
// of subscribers, websocket or otherwise. A Broadcaster is scoped to a
// single run: callers construct one per render.Pipeline.Run invocation.
type Broadcaster struct {
	mu       sync.Mutex
	feeds    map[feed]bool
	lastSent render.ProgressSnapshot
	done     bool
}

// NewBroadcaster returns an empty Broadcaster ready to accept subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{feeds: make(map[feed]bool)}
}

// Subscribe registers a new feed, buffered so a slow subscriber cannot
// block Publish; a full buffer drops the oldest unread snapshot instead
// (progress is a "latest wins" stream, not an audit log).
func (b *Broadcaster) Subscribe() (Feed, CancelFunc) {
	f := make(feed, 8)
	b.mu.Lock()
	b.feeds[f] = true
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.feeds[f]; ok {
			delete(b.feeds, f)
			close(f)
		}
	}
	return f, cancel
}

// Publish delivers snap to every live subscriber. Intended as a
// render.ProgressFunc itself does not return the caller's cancellation
// semantics, so wrap it: ProgressFunc(func(s) bool { b.Publish(s); return
// !cancelled }).
func (b *Broadcaster) Publish(snap render.ProgressSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSent = snap
	for f := range b.feeds {
		select {
		case f <- snap:
		default:
			// Drop the stale unread snapshot and push the new one in its
			// place; a progress feed only ever cares about the latest.
			select {
			case <-f:
			default:
			}
			select {
			case f <- snap:
			default:
			}
		}
	}
}

// Close marks the broadcaster done and closes every live subscriber feed,
// signalling observers the run has finished (successfully or not).
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for f := range b.feeds {
		delete(b.feeds, f)
		close(f)
	}
}

// Handler upgrades r to a websocket and streams b's snapshots to it until
// the run finishes or the connection breaks, mirroring the teacher's
// Logs handler shape (upgrade, subscribe, write loop, defer cleanup).
func Handler(b *Broadcaster) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()

		sub, cancel := b.Subscribe()
		defer cancel()

		for snap := range sub {
			payload, err := json.Marshal(snap)
			if err != nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	})
}
