// Package registry tracks which users currently hold a live session and
// fans pushes out to them. It is the single source of truth for online
// presence.
package registry

import (
	"log/slog"
	"sort"
	"sync"
)

// Sender is the send half of a live session. Implementations must be safe
// for concurrent use; the registry calls Send from whatever goroutine asks
// for a push.
type Sender interface {
	Send(v any) error
	Close() error
}

// Registry maps user ids to their single live session.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]Sender
}

func New() *Registry {
	return &Registry{sessions: make(map[int64]Sender)}
}

// Attach binds a session to a user. If the user already has a live
// session, the old one is closed: last login wins.
func (r *Registry) Attach(userID int64, s Sender) {
	r.mu.Lock()
	old := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()

	if old != nil && old != s {
		slog.Info("replacing existing session", "user_id", userID)
		_ = old.Close()
	}
}

// Detach removes the binding, but only if it still points at s. A session
// replaced by a newer login must not evict its successor on the way out.
func (r *Registry) Detach(userID int64, s Sender) {
	r.mu.Lock()
	if r.sessions[userID] == s {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
}

// Online reports whether the user has a live session.
func (r *Registry) Online(userID int64) bool {
	r.mu.Lock()
	_, ok := r.sessions[userID]
	r.mu.Unlock()
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	n := len(r.sessions)
	r.mu.Unlock()
	return n
}

// OnlineIDs returns the ids of all users with a live session, ascending.
func (r *Registry) OnlineIDs() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Send delivers v to one user if online. Returns false when the user has
// no live session; push delivery is best effort either way.
func (r *Registry) Send(userID int64, v any) bool {
	r.mu.Lock()
	s := r.sessions[userID]
	r.mu.Unlock()
	if s == nil {
		return false
	}
	if err := s.Send(v); err != nil {
		slog.Debug("push send failed", "user_id", userID, "err", err)
		return false
	}
	return true
}

// SendMany delivers v to every listed user that is online. Targets are
// snapshotted under the lock and the sends happen outside it so one slow
// session cannot stall the registry.
func (r *Registry) SendMany(userIDs []int64, v any) {
	r.mu.Lock()
	targets := make([]Sender, 0, len(userIDs))
	for _, id := range userIDs {
		if s, ok := r.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		_ = s.Send(v)
	}
}

// BroadcastAll delivers v to every live session.
func (r *Registry) BroadcastAll(v any) {
	r.mu.Lock()
	targets := make([]Sender, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		_ = s.Send(v)
	}
}

// SendManyExcept is SendMany minus one user, typically the originator of
// the event being fanned out.
func (r *Registry) SendManyExcept(userIDs []int64, except int64, v any) {
	r.mu.Lock()
	targets := make([]Sender, 0, len(userIDs))
	for _, id := range userIDs {
		if id == except {
			continue
		}
		if s, ok := r.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		_ = s.Send(v)
	}
}
