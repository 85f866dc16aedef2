package monitoring

import (
	"strings"
	"sync"
	"time"
)

// EnhancedMetrics tracks the counters the request pipeline actually
// reports: storage-transaction outcomes, per-backend storage-operation
// latency/error rates, pool occupancy, and admin config-plan applies.
// It backs the JSON body served by GET /api/admin/metrics.
type EnhancedMetrics struct {
	mu sync.RWMutex

	// Transaction metrics, one counter set per storage backend label.
	transactionAttempts map[string]int64
	transactionSuccess  map[string]int64
	transactionFailures map[string]int64

	// Storage metrics
	storageOps       map[string]map[string]*storageOpAggregate // backend -> operation -> aggregate
	storageSlowOps   map[string]map[string]int64               // backend -> operation -> slow count
	storagePoolStats map[string]StoragePoolStats               // backend -> pool stats snapshot

	// Config-plan apply metrics
	planOps map[planOpKey]*PlanOpStats
}

type storageOpAggregate struct {
	Count     int64
	Errors    int64
	Durations []float64
}

// StoragePoolStats captures basic pool statistics for storage backends with pooling.
type StoragePoolStats struct {
	Active int64
	Idle   int64
	Hits   int64
	Misses int64
}

type planOpKey struct {
	Backend string
	Stage   string
	Status  string
}

// PlanOpStats captures config-plan apply counters and duration aggregates.
type PlanOpStats struct {
	Count        int64
	DurationSumS float64
}

// NewEnhancedMetrics creates a new metrics tracker.
func NewEnhancedMetrics() *EnhancedMetrics {
	return &EnhancedMetrics{
		transactionAttempts: make(map[string]int64),
		transactionSuccess:  make(map[string]int64),
		transactionFailures: make(map[string]int64),
		storageOps:          make(map[string]map[string]*storageOpAggregate),
		storageSlowOps:      make(map[string]map[string]int64),
		storagePoolStats:    make(map[string]StoragePoolStats),
		planOps:             make(map[planOpKey]*PlanOpStats),
	}
}

// RecordTransactionAttempt records that a storage transaction was opened.
func (m *EnhancedMetrics) RecordTransactionAttempt(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeBackendLabel(backend)
	m.transactionAttempts[key]++
}

// RecordTransactionCommit records a successful transaction commit.
func (m *EnhancedMetrics) RecordTransactionCommit(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeBackendLabel(backend)
	m.transactionSuccess[key]++
}

// RecordTransactionFailure records a rolled-back or failed transaction.
func (m *EnhancedMetrics) RecordTransactionFailure(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeBackendLabel(backend)
	m.transactionFailures[key]++
}

// RecordStorageOperation tracks a storage backend operation, flagging
// anything slower than 250ms as a slow op for the backend/operation pair.
func (m *EnhancedMetrics) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeBackendLabel(backend)
	if m.storageOps[key] == nil {
		m.storageOps[key] = make(map[string]*storageOpAggregate)
	}
	agg := m.storageOps[key][operation]
	if agg == nil {
		agg = &storageOpAggregate{}
		m.storageOps[key][operation] = agg
	}
	agg.Count++
	if err != nil {
		agg.Errors++
	}
	agg.Durations = append(agg.Durations, duration.Seconds())
	if len(agg.Durations) > 1000 {
		agg.Durations = agg.Durations[len(agg.Durations)/2:]
	}

	if duration >= 250*time.Millisecond {
		if m.storageSlowOps[key] == nil {
			m.storageSlowOps[key] = make(map[string]int64)
		}
		m.storageSlowOps[key][operation]++
	}
}

// UpdateStoragePoolStats captures pool metrics for a backend.
func (m *EnhancedMetrics) UpdateStoragePoolStats(backend string, stats StoragePoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storagePoolStats[normalizeBackendLabel(backend)] = stats
}

// RecordPlanApply captures config-plan apply attempts across backends/stages.
func (m *EnhancedMetrics) RecordPlanApply(backend, stage, status string, duration time.Duration) {
	if backend == "" {
		backend = "unknown"
	}
	if stage == "" {
		stage = "apply"
	}
	if status == "" {
		status = "success"
	}

	key := planOpKey{Backend: backend, Stage: stage, Status: status}

	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.planOps[key]
	if stats == nil {
		stats = &PlanOpStats{}
		m.planOps[key] = stats
	}
	stats.Count++
	stats.DurationSumS += duration.Seconds()
}

// GetSnapshot returns a point-in-time view of every counter, suitable
// for direct JSON serialization by the admin metrics endpoint.
func (m *EnhancedMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]interface{})

	txAttempts := make(map[string]int64, len(m.transactionAttempts))
	for k, v := range m.transactionAttempts {
		txAttempts[k] = v
	}
	txSuccess := make(map[string]int64, len(m.transactionSuccess))
	for k, v := range m.transactionSuccess {
		txSuccess[k] = v
	}
	txFailures := make(map[string]int64, len(m.transactionFailures))
	for k, v := range m.transactionFailures {
		txFailures[k] = v
	}
	snapshot["transactions"] = map[string]interface{}{
		"attempts": txAttempts,
		"commits":  txSuccess,
		"failures": txFailures,
	}

	storageOps := make(map[string]map[string]interface{})
	for backend, opMap := range m.storageOps {
		backendMap := make(map[string]interface{}, len(opMap))
		for operation, agg := range opMap {
			backendMap[operation] = map[string]interface{}{
				"count":        agg.Count,
				"errors":       agg.Errors,
				"avg_duration": calculateAverage(agg.Durations),
			}
		}
		storageOps[backend] = backendMap
	}
	slowOps := make(map[string]map[string]int64, len(m.storageSlowOps))
	for backend, opMap := range m.storageSlowOps {
		backendMap := make(map[string]int64, len(opMap))
		for operation, count := range opMap {
			backendMap[operation] = count
		}
		slowOps[backend] = backendMap
	}
	poolStats := make(map[string]StoragePoolStats, len(m.storagePoolStats))
	for backend, stats := range m.storagePoolStats {
		poolStats[backend] = stats
	}
	snapshot["storage"] = map[string]interface{}{
		"operations": storageOps,
		"slow":       slowOps,
		"pool":       poolStats,
	}

	plan := make(map[string]map[string]map[string]PlanOpStats, len(m.planOps))
	for key, stats := range m.planOps {
		stageMap, ok := plan[key.Backend]
		if !ok {
			stageMap = make(map[string]map[string]PlanOpStats)
			plan[key.Backend] = stageMap
		}
		statusMap, ok := stageMap[key.Stage]
		if !ok {
			statusMap = make(map[string]PlanOpStats)
			stageMap[key.Stage] = statusMap
		}
		statusMap[key.Status] = PlanOpStats{
			Count:        stats.Count,
			DurationSumS: stats.DurationSumS,
		}
	}
	snapshot["plan"] = plan

	return snapshot
}

func calculateAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func normalizeBackendLabel(label string) string {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" {
		return "unknown"
	}
	return label
}
