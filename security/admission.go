package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// admissionEntry tracks one client's token bucket and its last access time
type admissionEntry struct {
	clientKey  string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// AdmissionLimiter throttles inbound request admission per client IP using a
// token bucket per client, with LRU eviction to prevent unbounded memory
// growth. It sits in front of the sliding-window Limiter: admission is a
// cheap, local, instance-level gate against floods, while the Limiter
// enforces the shared per-principal budgets.
type AdmissionLimiter struct {
	limiters        map[string]*list.Element // client key -> list element
	lruList         *list.List               // LRU list of *admissionEntry
	mu              sync.RWMutex
	rate            int
	burst           int
	maxEntries      int
	logger          *slog.Logger
	cleanupInterval time.Duration
	stopCleanup     chan struct{}

	// Statistics
	totalEvictions int64
	totalCleanups  int64
}

// NewAdmissionLimiter creates an admission limiter with automatic cleanup and
// LRU eviction. Default max tracked clients is 10,000; use
// NewAdmissionLimiterWithConfig for a custom cap.
func NewAdmissionLimiter(requestsPerSecond, burst int, logger *slog.Logger) *AdmissionLimiter {
	return NewAdmissionLimiterWithConfig(requestsPerSecond, burst, 10000, logger)
}

// NewAdmissionLimiterWithConfig creates an admission limiter with a custom
// cap on tracked clients. When the cap is reached, the least recently seen
// client's bucket is evicted. Set maxEntries to 0 for unlimited (not
// recommended for production).
func NewAdmissionLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *AdmissionLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = 10000
		logger.Warn("Invalid maxEntries, using default", "maxEntries", maxEntries)
	}

	al := &AdmissionLimiter{
		limiters:        make(map[string]*list.Element),
		lruList:         list.New(),
		rate:            requestsPerSecond,
		burst:           burst,
		maxEntries:      maxEntries,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	// Start background cleanup goroutine
	go al.cleanupLoop()

	return al
}

// Allow reports whether a request from the given client should be admitted.
// Implements LRU eviction when the tracked-client cap is reached.
func (al *AdmissionLimiter) Allow(clientKey string) bool {
	now := time.Now()

	al.mu.Lock()
	defer al.mu.Unlock()

	if elem, exists := al.limiters[clientKey]; exists {
		// Move to front (most recently used)
		al.lruList.MoveToFront(elem)
		entry := elem.Value.(*admissionEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	// New client and at capacity: evict the least recently seen bucket
	if al.maxEntries > 0 && len(al.limiters) >= al.maxEntries {
		al.evictLRU()
	}

	entry := &admissionEntry{
		clientKey:  clientKey,
		limiter:    rate.NewLimiter(rate.Limit(al.rate), al.burst),
		lastAccess: now,
	}

	elem := al.lruList.PushFront(entry)
	al.limiters[clientKey] = elem

	return entry.limiter.Allow()
}

// evictLRU removes the least recently used entry.
// Must be called with mutex locked.
func (al *AdmissionLimiter) evictLRU() {
	elem := al.lruList.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*admissionEntry)
	delete(al.limiters, entry.clientKey)
	al.lruList.Remove(elem)
	al.totalEvictions++

	al.logger.Debug("Admission limiter LRU eviction",
		"client", entry.clientKey,
		"total_evictions", al.totalEvictions,
		"current_entries", len(al.limiters))
}

// cleanupLoop periodically removes idle buckets to prevent memory leaks
func (al *AdmissionLimiter) cleanupLoop() {
	ticker := time.NewTicker(al.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			al.Cleanup(30 * time.Minute) // Remove buckets idle for 30 minutes
		case <-al.stopCleanup:
			return
		}
	}
}

// Cleanup removes buckets that have not been touched for the given duration.
func (al *AdmissionLimiter) Cleanup(maxIdleTime time.Duration) {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := al.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*admissionEntry)

		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(al.limiters, entry.clientKey)
			al.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		al.totalCleanups++
		al.logger.Debug("Admission limiter cleanup completed",
			"removed", removed,
			"remaining", len(al.limiters),
			"total_cleanups", al.totalCleanups)
	}
}

// Stop gracefully stops the cleanup goroutine
func (al *AdmissionLimiter) Stop() {
	close(al.stopCleanup)
}

// AdmissionStats holds admission limiter statistics for monitoring
type AdmissionStats struct {
	CurrentEntries int     // Current number of tracked clients
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalEvictions int64   // Total number of LRU evictions
	TotalCleanups  int64   // Total number of cleanup operations
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// GetStats returns current statistics for monitoring and alerting.
func (al *AdmissionLimiter) GetStats() AdmissionStats {
	al.mu.RLock()
	defer al.mu.RUnlock()

	stats := AdmissionStats{
		CurrentEntries: len(al.limiters),
		MaxEntries:     al.maxEntries,
		TotalEvictions: al.totalEvictions,
		TotalCleanups:  al.totalCleanups,
	}

	if al.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(al.maxEntries) * 100.0
	}

	return stats
}
