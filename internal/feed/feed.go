package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/socialsapp/socials-service/internal/model"
	"github.com/socialsapp/socials-service/internal/store"
)

var (
	// ErrUnknownEvent means the event is not in the current mirror.
	ErrUnknownEvent = errors.New("event not in feed")
	// ErrNotOwner is an explicit authorization denial on delete.
	ErrNotOwner = errors.New("only the event creator can delete it")
)

// Interested is the displayed like affordance for one event: whether the
// given identity is a member, and the set size. Always computed from that
// event's own set, never from state shared across events.
type Interested struct {
	Member bool `json:"interested"`
	Count  int  `json:"count"`
}

// Feed mirrors the live ordered collection and owns the like-toggle state
// machine. Like state is keyed by event id; incoming snapshots are
// authoritative and overwrite any optimistic local change.
type Feed struct {
	store store.EventStore
	log   *zap.SugaredLogger

	mu     sync.RWMutex
	order  []string
	mirror map[string]model.Social
}

func New(st store.EventStore, logger *zap.SugaredLogger) *Feed {
	return &Feed{
		store:  st,
		log:    logger,
		mirror: make(map[string]model.Social),
	}
}

// Run subscribes to the live collection and keeps the mirror current until
// ctx is cancelled, which also releases the store subscription.
func (f *Feed) Run(ctx context.Context) error {
	snapshots, err := f.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe feed: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			f.apply(snap)
		}
	}
}

// apply replaces the mirror wholesale, preserving store order.
func (f *Feed) apply(snap store.Snapshot) {
	order := make([]string, 0, len(snap))
	mirror := make(map[string]model.Social, len(snap))
	for _, soc := range snap {
		order = append(order, soc.ID)
		mirror[soc.ID] = soc
	}
	f.mu.Lock()
	f.order = order
	f.mirror = mirror
	f.mu.Unlock()
}

// Snapshot returns the mirrored list in display order.
func (f *Feed) Snapshot() []model.Social {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Social, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.mirror[id])
	}
	return out
}

// Interested reports identity's like state for one event.
func (f *Feed) Interested(identity, eventID string) (Interested, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	soc, ok := f.mirror[eventID]
	if !ok {
		return Interested{}, ErrUnknownEvent
	}
	return Interested{Member: soc.Likes.Contains(identity), Count: len(soc.Likes)}, nil
}

// ToggleInterested flips identity's membership in the event's likes set.
// The mirror is updated optimistically, the store is mutated through its
// atomic add/remove primitive, and on failure the optimistic change is
// rolled back and the error surfaced.
func (f *Feed) ToggleInterested(ctx context.Context, identity, eventID string) (Interested, error) {
	f.mu.Lock()
	soc, ok := f.mirror[eventID]
	if !ok {
		f.mu.Unlock()
		return Interested{}, ErrUnknownEvent
	}
	previous := soc.Likes
	member := previous.Contains(identity)
	if member {
		soc.Likes = previous.Remove(identity)
	} else {
		soc.Likes = previous.Add(identity)
	}
	f.mirror[eventID] = soc
	f.mu.Unlock()

	var updated *model.Social
	var err error
	if member {
		updated, err = f.store.RemoveLike(ctx, eventID, identity)
	} else {
		updated, err = f.store.AddLike(ctx, eventID, identity)
	}
	if err != nil {
		f.rollbackLikes(eventID, previous)
		return Interested{}, fmt.Errorf("toggle interested: %w", err)
	}

	f.mu.Lock()
	if cur, ok := f.mirror[eventID]; ok {
		cur.Likes = updated.Likes
		cur.Version = updated.Version
		f.mirror[eventID] = cur
	}
	f.mu.Unlock()
	return Interested{Member: updated.Likes.Contains(identity), Count: len(updated.Likes)}, nil
}

func (f *Feed) rollbackLikes(eventID string, likes model.StringSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if soc, ok := f.mirror[eventID]; ok {
		soc.Likes = likes
		f.mirror[eventID] = soc
	}
}

// Delete removes an event after verifying ownership against a fresh read of
// the record, never the cached mirror copy.
func (f *Feed) Delete(ctx context.Context, identity, eventID string) error {
	soc, err := f.store.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("read event before delete: %w", err)
	}
	if soc.UserID != identity {
		return ErrNotOwner
	}
	if err := f.store.Delete(ctx, eventID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}
