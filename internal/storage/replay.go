package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultReplayCapacity bounds the write-replay queue.
const DefaultReplayCapacity = 1024

// DefaultReplayDrainInterval is how often Start probes for reconnect.
const DefaultReplayDrainInterval = 5 * time.Second

type replayOp struct {
	desc  string
	apply func(ctx context.Context) error
}

// ReplayBackend wraps a Backend with a bounded in-process write-replay
// queue: a write the underlying store rejects (unreachable) is queued
// and retried in FIFO order once the store's health check passes
// again. While the queue is non-empty, new writes are appended behind
// it rather than applied directly, preserving write order. Reads
// always hit the underlying backend; during an outage callers serve
// reads from the credential manager's in-memory cache.
type ReplayBackend struct {
	Backend
	mu       sync.Mutex
	queue    []replayOp
	capacity int
}

// WithWriteReplay wraps an already-initialized backend with the
// degraded-mode write queue. capacity <= 0 uses DefaultReplayCapacity.
func WithWriteReplay(inner Backend, capacity int) *ReplayBackend {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &ReplayBackend{Backend: inner, capacity: capacity}
}

// QueuedWrites reports how many writes are waiting for replay.
func (r *ReplayBackend) QueuedWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *ReplayBackend) write(ctx context.Context, desc string, apply func(ctx context.Context) error) error {
	r.mu.Lock()
	pending := len(r.queue) > 0
	r.mu.Unlock()

	if !pending {
		err := apply(ctx)
		if err == nil {
			return nil
		}
		// Semantic rejections are the caller's problem, not an outage.
		var notFound *ErrNotFound
		var notSupported *ErrNotSupported
		if errors.As(err, &notFound) || errors.As(err, &notSupported) {
			return err
		}
		log.WithError(err).Warnf("storage: write failed, queueing for replay: %s", desc)
	}
	return r.enqueue(desc, apply)
}

func (r *ReplayBackend) enqueue(desc string, apply func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) >= r.capacity {
		return fmt.Errorf("storage: write-replay queue full (%d), dropping %s", r.capacity, desc)
	}
	r.queue = append(r.queue, replayOp{desc: desc, apply: apply})
	return nil
}

// Drain retries queued writes in FIFO order, stopping at the first
// failure (the failed write stays at the head). Returns how many
// writes were applied.
func (r *ReplayBackend) Drain(ctx context.Context) int {
	applied := 0
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return applied
		}
		op := r.queue[0]
		r.mu.Unlock()

		if err := op.apply(ctx); err != nil {
			log.WithError(err).Warnf("storage: replay stalled at %s (%d applied)", op.desc, applied)
			return applied
		}
		r.mu.Lock()
		r.queue = r.queue[1:]
		r.mu.Unlock()
		applied++
	}
}

// Start drains the queue in the background whenever the underlying
// backend reports healthy again. Blocks until ctx is done.
func (r *ReplayBackend) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReplayDrainInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.QueuedWrites() == 0 {
				continue
			}
			if err := r.Backend.Health(ctx); err != nil {
				continue
			}
			if applied := r.Drain(ctx); applied > 0 {
				log.Infof("storage: replayed %d queued write(s) after reconnect", applied)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *ReplayBackend) SetCredential(ctx context.Context, id string, data map[string]interface{}) error {
	return r.write(ctx, "set_credential "+id, func(ctx context.Context) error {
		return r.Backend.SetCredential(ctx, id, data)
	})
}

func (r *ReplayBackend) DeleteCredential(ctx context.Context, id string) error {
	return r.write(ctx, "delete_credential "+id, func(ctx context.Context) error {
		return r.Backend.DeleteCredential(ctx, id)
	})
}

func (r *ReplayBackend) SetConfig(ctx context.Context, key string, value interface{}) error {
	return r.write(ctx, "set_config "+key, func(ctx context.Context) error {
		return r.Backend.SetConfig(ctx, key, value)
	})
}

func (r *ReplayBackend) DeleteConfig(ctx context.Context, key string) error {
	return r.write(ctx, "delete_config "+key, func(ctx context.Context) error {
		return r.Backend.DeleteConfig(ctx, key)
	})
}

func (r *ReplayBackend) IncrementUsage(ctx context.Context, key string, field string, delta int64) error {
	return r.write(ctx, "increment_usage "+key+"/"+field, func(ctx context.Context) error {
		return r.Backend.IncrementUsage(ctx, key, field, delta)
	})
}

func (r *ReplayBackend) BatchSetCredentials(ctx context.Context, data map[string]map[string]interface{}) error {
	return r.write(ctx, "batch_set_credentials", func(ctx context.Context) error {
		return r.Backend.BatchSetCredentials(ctx, data)
	})
}

func (r *ReplayBackend) BatchDeleteCredentials(ctx context.Context, ids []string) error {
	return r.write(ctx, "batch_delete_credentials", func(ctx context.Context) error {
		return r.Backend.BatchDeleteCredentials(ctx, ids)
	})
}
