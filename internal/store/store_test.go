package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/socialsapp/socials-service/internal/logger"
	"github.com/socialsapp/socials-service/internal/model"
)

func newTestStore(t *testing.T) *Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Social{}, &model.OutboxEvent{}))
	return NewStore(db, nil, NewMemoryNotifier(), &kafka.Writer{}, must(logger.NewLogger()))
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}

func social(id, owner string, date int64) *model.Social {
	return &model.Social{
		ID:               id,
		EventName:        "Event " + id,
		EventDescription: "desc",
		EventDate:        date,
		EventLocation:    "somewhere",
		EventImage:       "http://img/" + id,
		UserID:           owner,
		Likes:            model.StringSet{},
	}
}

func TestStore_ListOrderedByEventDate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// written out of order on purpose
	assert.NoError(t, st.Set(ctx, "late", social("late", "u1", 200)))
	assert.NoError(t, st.Set(ctx, "early", social("early", "u1", 100)))

	snap, err := st.ListOrdered(ctx)
	assert.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Equal(t, "early", snap[0].ID)
	assert.Equal(t, "late", snap[1].ID)
}

func TestStore_LikeToggleParity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	assert.NoError(t, st.Set(ctx, "e1", social("e1", "u1", 100)))

	soc, err := st.AddLike(ctx, "e1", "alice")
	assert.NoError(t, err)
	assert.True(t, soc.Likes.Contains("alice"))

	// adding an existing member stays a set
	soc, err = st.AddLike(ctx, "e1", "alice")
	assert.NoError(t, err)
	assert.Len(t, soc.Likes, 1)

	soc, err = st.RemoveLike(ctx, "e1", "alice")
	assert.NoError(t, err)
	assert.False(t, soc.Likes.Contains("alice"))
	assert.Len(t, soc.Likes, 0)
}

func TestStore_LikesAcrossEventsAreIndependent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	assert.NoError(t, st.Set(ctx, "a", social("a", "u1", 100)))
	assert.NoError(t, st.Set(ctx, "b", social("b", "u1", 200)))

	_, err := st.AddLike(ctx, "a", "alice")
	assert.NoError(t, err)

	other, err := st.Get(ctx, "b")
	assert.NoError(t, err)
	assert.Len(t, other.Likes, 0)
}

func TestStore_ConcurrentLikesNeverLoseWrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	assert.NoError(t, st.Set(ctx, "e1", social("e1", "u1", 100)))

	users := []string{"alice", "bob"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, u := range users {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.AddLike(ctx, "e1", u); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// every write that reported success is in the final set; a loser of the
	// version race reports ErrConflict instead of silently clobbering
	final, err := st.Get(ctx, "e1")
	assert.NoError(t, err)
	assert.Equal(t, succeeded, len(final.Likes))
	assert.GreaterOrEqual(t, succeeded, 1)
}

func TestStore_DeleteUnknownID(t *testing.T) {
	st := newTestStore(t)
	err := st.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LikeCountFallsBackToRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	assert.NoError(t, st.Set(ctx, "e1", social("e1", "u1", 100)))
	_, err := st.AddLike(ctx, "e1", "alice")
	assert.NoError(t, err)

	n, err := st.LikeCount(ctx, "e1")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.LikeCount(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SubscribeDeliversSnapshots(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, st.Set(ctx, "e1", social("e1", "u1", 100)))

	snapshots, err := st.Subscribe(ctx)
	assert.NoError(t, err)

	// initial snapshot arrives without any further change
	first := <-snapshots
	assert.Len(t, first, 1)

	assert.NoError(t, st.Set(ctx, "e2", social("e2", "u1", 50)))

	select {
	case snap := <-snapshots:
		assert.Len(t, snap, 2)
		assert.Equal(t, "e2", snap[0].ID) // earlier date sorts first
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after change")
	}

	cancel()
	select {
	case _, ok := <-snapshots:
		assert.False(t, ok, "channel should close on cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestStore_MutationsWriteOutboxRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	assert.NoError(t, st.Set(ctx, "e1", social("e1", "u1", 100)))
	_, err := st.AddLike(ctx, "e1", "alice")
	assert.NoError(t, err)
	assert.NoError(t, st.Delete(ctx, "e1"))

	evts, err := st.PollOutbox(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, evts, 3)
	types := make([]string, 0, len(evts))
	for _, e := range evts {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []string{"SocialCreated", "SocialLiked", "SocialDeleted"}, types)

	assert.NoError(t, st.MarkOutboxProcessed(ctx, evts[0].ID))
	rest, err := st.PollOutbox(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, rest, 2)
}
