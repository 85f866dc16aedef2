package credential

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRefreshQueueConcurrency is the number of worker goroutines
// draining NeedsRefresh-flagged credentials at a time.
const DefaultRefreshQueueConcurrency = 4

// RefreshQueue fans credentials flagged NeedsRefresh (set by the
// request pipeline on a 401/403 upstream response) out across
// a bounded set of workers, instead of the single serial scan
// StartPeriodicRefresh performs for near-expiry refreshes. Both
// mechanisms ultimately call Manager.RefreshCredential, which is
// deduplicated per credential by the RefreshCoordinator.
type RefreshQueue struct {
	mgr         *Manager
	concurrency int
	work        chan string
}

// NewRefreshQueue builds a queue with the given worker concurrency
// (DefaultRefreshQueueConcurrency if n <= 0).
func NewRefreshQueue(mgr *Manager, n int) *RefreshQueue {
	if n <= 0 {
		n = DefaultRefreshQueueConcurrency
	}
	return &RefreshQueue{mgr: mgr, concurrency: n, work: make(chan string, 256)}
}

// Start launches the worker pool; it returns immediately and stops
// when ctx is canceled.
func (q *RefreshQueue) Start(ctx context.Context) {
	for i := 0; i < q.concurrency; i++ {
		go q.worker(ctx)
	}
	go q.scanner(ctx)
}

func (q *RefreshQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case credID := <-q.work:
			if err := q.mgr.RefreshCredential(ctx, credID); err != nil {
				log.WithError(err).Warnf("refresh_queue: refresh failed for %s", credID)
			}
		}
	}
}

// scanner periodically enqueues every credential still flagged
// NeedsRefresh; the RefreshCoordinator makes a duplicate enqueue for a
// credential already being refreshed a no-op wait, not a second call.
func (q *RefreshQueue) scanner(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cred := range q.mgr.GetAllCredentials() {
				if !cred.NeedsRefresh {
					continue
				}
				select {
				case q.work <- cred.ID:
				default:
					log.Warnf("refresh_queue: queue full, dropping enqueue for %s this tick", cred.ID)
				}
			}
		}
	}
}

// Enqueue submits a credential for refresh immediately, used by the
// request pipeline right after it flags a credential NeedsRefresh on a
// 401/403 response; the caller never blocks on the refresh itself.
func (q *RefreshQueue) Enqueue(credID string) {
	select {
	case q.work <- credID:
	default:
		log.Warnf("refresh_queue: queue full, dropping immediate enqueue for %s", credID)
	}
}
