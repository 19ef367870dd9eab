package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/socialsapp/socials-service/internal/model"
)

// ErrNotFound is returned for point reads and deletes of an unknown id.
var ErrNotFound = errors.New("social not found")

// ErrConflict means a like update lost a version race and should be retried
// by the caller.
var ErrConflict = errors.New("concurrent like update")

// Snapshot is a full-list view of the collection, ascending by eventDate.
type Snapshot []model.Social

// EventStore is the live-query document collection holding socials.
// AddLike/RemoveLike are atomic set-membership updates; callers must never
// read a cached likes array and write the whole field back.
type EventStore interface {
	CreateID() string
	Get(ctx context.Context, id string) (*model.Social, error)
	Set(ctx context.Context, id string, s *model.Social) error
	Delete(ctx context.Context, id string) error
	ListOrdered(ctx context.Context) (Snapshot, error)
	AddLike(ctx context.Context, id, identity string) (*model.Social, error)
	RemoveLike(ctx context.Context, id, identity string) (*model.Social, error)
	LikeCount(ctx context.Context, id string) (int, error)
	Subscribe(ctx context.Context) (<-chan Snapshot, error)
}

// Store implements EventStore on postgres, with a redis like-count cache and
// change notifications fanned out through a Notifier.
type Store struct {
	db       *gorm.DB
	rdb      *redis.Client
	notifier Notifier
	writer   *kafka.Writer
	log      *zap.SugaredLogger
}

func NewStore(db *gorm.DB, rdb *redis.Client, n Notifier, w *kafka.Writer, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, rdb: rdb, notifier: n, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (s *Store) DB(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

// CreateID mints a new document identity before anything is persisted.
func (s *Store) CreateID() string { return uuid.NewString() }

// Get performs a fresh point read.
func (s *Store) Get(ctx context.Context, id string) (*model.Social, error) {
	var soc model.Social
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&soc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &soc, nil
}

// Set writes the complete record under id and announces the change.
func (s *Store) Set(ctx context.Context, id string, soc *model.Social) error {
	soc.ID = id
	if soc.Likes == nil {
		soc.Likes = model.StringSet{}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(soc).Error; err != nil {
			return err
		}
		return s.createOutboxEvent(tx, soc.ID, "SocialCreated", map[string]interface{}{
			"id": soc.ID, "eventName": soc.EventName, "userID": soc.UserID,
		})
	})
	if err != nil {
		return err
	}
	s.broadcast(ctx)
	return nil
}

// Delete removes the record. Ownership is checked by the caller against a
// fresh Get; the store only enforces existence.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&model.Social{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return s.createOutboxEvent(tx, id, "SocialDeleted", map[string]interface{}{"id": id})
	})
	if err != nil {
		return err
	}
	s.broadcast(ctx)
	return nil
}

// ListOrdered returns the collection ascending by eventDate, the only order
// the feed ever displays.
func (s *Store) ListOrdered(ctx context.Context) (Snapshot, error) {
	var socs []model.Social
	err := s.db.WithContext(ctx).Order("event_date asc").Find(&socs).Error
	return Snapshot(socs), err
}

// AddLike puts identity into the likes set. Idempotent: adding an existing
// member changes nothing and reports no error.
func (s *Store) AddLike(ctx context.Context, id, identity string) (*model.Social, error) {
	return s.mutateLikes(ctx, id, "SocialLiked", func(likes model.StringSet) model.StringSet {
		return likes.Add(identity)
	})
}

// RemoveLike takes identity out of the likes set.
func (s *Store) RemoveLike(ctx context.Context, id, identity string) (*model.Social, error) {
	return s.mutateLikes(ctx, id, "SocialUnliked", func(likes model.StringSet) model.StringSet {
		return likes.Remove(identity)
	})
}

// mutateLikes locks the row, applies fn to the authoritative set and writes
// it back under a version check, so a racing toggle can never resurrect a
// stale copy of the array.
func (s *Store) mutateLikes(ctx context.Context, id, eventType string, fn func(model.StringSet) model.StringSet) (*model.Social, error) {
	var out *model.Social
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		soc, err := s.getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		likes := fn(soc.Likes)
		res := tx.Model(&model.Social{}).
			Where("id = ? AND version = ?", id, soc.Version).
			Updates(map[string]interface{}{
				"likes":   likes,
				"version": soc.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if err := s.createOutboxEvent(tx, id, eventType, map[string]interface{}{
			"id": id, "likes": len(likes),
		}); err != nil {
			return err
		}
		soc.Likes = likes
		soc.Version++
		out = soc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.cacheLikeCount(ctx, id, len(out.Likes)); err != nil {
		s.log.Warn(err)
	}
	s.broadcast(ctx)
	return out, nil
}

// getForUpdate locks the social row. sqlite has no row locks; there the
// version check alone arbitrates racing writers.
func (s *Store) getForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Social, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var soc model.Social
	if err := q.Where("id = ?", id).First(&soc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &soc, nil
}

// LikeCount serves from the redis cache when warm, falling back to the row.
func (s *Store) LikeCount(ctx context.Context, id string) (int, error) {
	if s.rdb != nil {
		n, err := s.rdb.Get(ctx, likeCountKey(id)).Int()
		if err == nil {
			return n, nil
		}
	}
	soc, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.cacheLikeCount(ctx, id, len(soc.Likes)); err != nil {
		s.log.Warn(err)
	}
	return len(soc.Likes), nil
}

func (s *Store) cacheLikeCount(ctx context.Context, id string, n int) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, likeCountKey(id), n, 5*time.Minute).Err()
}

func likeCountKey(id string) string { return "likes:" + id }

// Subscribe opens a live query: the current snapshot is delivered
// immediately, then a fresh one on every collection change, until ctx is
// cancelled. The returned channel is closed on cancellation.
func (s *Store) Subscribe(ctx context.Context) (<-chan Snapshot, error) {
	changes, err := s.notifier.Listen(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan Snapshot, 1)
	initial, err := s.ListOrdered(ctx)
	if err != nil {
		return nil, err
	}
	out <- initial
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				snap, err := s.ListOrdered(ctx)
				if err != nil {
					s.log.Errorf("refresh snapshot: %v", err)
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) broadcast(ctx context.Context) {
	if err := s.notifier.Broadcast(ctx); err != nil {
		s.log.Warnf("broadcast change: %v", err)
	}
}

func (s *Store) createOutboxEvent(tx *gorm.DB, aggregateID, eventType string, payload map[string]interface{}) error {
	b, _ := json.Marshal(payload)
	evt := &model.OutboxEvent{
		Aggregate:   "Social",
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     string(b),
	}
	return tx.Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (s *Store) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := s.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (s *Store) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (s *Store) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s/%d", evt.AggregateID, evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return s.writer.WriteMessages(ctx, msg)
}
