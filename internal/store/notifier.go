package store

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Notifier carries a "collection changed" signal from writers to live
// subscriptions. The payload is deliberately empty: subscribers re-read the
// collection, so a lost coalesced signal only delays a snapshot that the
// next change delivers anyway.
type Notifier interface {
	Broadcast(ctx context.Context) error
	Listen(ctx context.Context) (<-chan struct{}, error)
}

const changeChannel = "socials.changed"

// RedisNotifier fans change signals across processes via pub/sub.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Broadcast(ctx context.Context) error {
	return n.rdb.Publish(ctx, changeChannel, "1").Err()
}

func (n *RedisNotifier) Listen(ctx context.Context) (<-chan struct{}, error) {
	sub := n.rdb.Subscribe(ctx, changeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default: // coalesce
				}
			}
		}
	}()
	return out, nil
}

// MemoryNotifier is an in-process Notifier for tests and single-node runs.
type MemoryNotifier struct {
	mu        sync.Mutex
	listeners map[chan struct{}]struct{}
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{listeners: make(map[chan struct{}]struct{})}
}

func (n *MemoryNotifier) Broadcast(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.listeners {
		select {
		case ch <- struct{}{}:
		default: // coalesce
		}
	}
	return nil
}

func (n *MemoryNotifier) Listen(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.listeners, ch)
		n.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
