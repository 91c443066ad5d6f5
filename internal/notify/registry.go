// Package notify fans encounter updates out to registered listeners:
// the Redis relay for cross-instance delivery and the Slack announcer
// for kill and wipe callouts.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/loothing/lodestone/internal/domain"
)

// Listener receives encounter notices. Implementations must tolerate
// duplicate and out-of-order delivery.
type Listener interface {
	Name() string
	Notify(ctx context.Context, notice *domain.EncounterNotice) error
}

// Registry is the set of listeners the fanout dispatches to.
type Registry struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a listener. Safe to call while the fanout runs.
func (r *Registry) Register(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Dispatch delivers one notice to every listener. A listener failure is
// logged and never blocks the others.
func (r *Registry) Dispatch(ctx context.Context, notice *domain.EncounterNotice) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		if err := l.Notify(ctx, notice); err != nil {
			log.Warn().Err(err).
				Str("listener", l.Name()).
				Str("client_id", notice.ClientID).
				Msg("notify: listener failed")
		}
	}
}

// Run consumes notices until the channel closes or ctx is cancelled.
func (r *Registry) Run(ctx context.Context, notices <-chan *domain.EncounterNotice) {
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-notices:
			if !ok {
				return
			}
			if notice == nil || notice.Update == nil {
				continue
			}
			r.Dispatch(ctx, notice)
		}
	}
}
