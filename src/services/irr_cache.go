// backend/src/services/irr_cache.go
package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/username/wealthvisor/backend/src/irr"
	"github.com/username/wealthvisor/backend/src/logger"
)

// DefaultIRRCacheTTL bounds how stale a cached calculation may get before it
// is treated as a miss.
const DefaultIRRCacheTTL = 30 * time.Minute

// latestDateKey is the cache-key sentinel for calculations without an
// explicit as-of date.
const latestDateKey = "latest"

// CacheStats summarizes the cache contents at a point in time.
type CacheStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

type irrCacheEntry struct {
	result    IRRCalculationResult
	createdAt time.Time
	expiresAt time.Time
	fundIDs   []int64
}

// IRRCache is an in-memory fingerprint-keyed cache for IRR calculation
// results. Entries expire after a TTL and can be invalidated by fund id
// whenever a fund's underlying activity or valuation data changes. All
// access goes through a single mutex; the shared map is touched by
// concurrently running request handlers.
type IRRCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*irrCacheEntry
	byFund  map[int64]map[string]struct{}
}

// NewIRRCache constructs a cache with the given default TTL. A
// non-positive TTL falls back to DefaultIRRCacheTTL.
func NewIRRCache(ttl time.Duration) *IRRCache {
	if ttl <= 0 {
		ttl = DefaultIRRCacheTTL
	}
	return &IRRCache{
		ttl:     ttl,
		entries: make(map[string]*irrCacheEntry),
		byFund:  make(map[int64]map[string]struct{}),
	}
}

type fingerprintFlow struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

type fingerprintValuation struct {
	FundID int64   `json:"fund_id"`
	Amount float64 `json:"amount"`
}

type fingerprintPayload struct {
	FundIDs    []int64                `json:"fund_ids"`
	Date       string                 `json:"date"`
	CashFlows  []fingerprintFlow      `json:"cash_flows"`
	Valuations []fingerprintValuation `json:"valuations"`
}

// fingerprint derives a deterministic digest from all logical inputs to a
// calculation. Identical inputs collide to the same key regardless of the
// order fund ids or valuations were supplied in.
func fingerprint(fundIDs []int64, dateKey string, flows irr.MonthlyCashFlowVector, valuations map[int64]float64) string {
	sortedIDs := make([]int64, len(fundIDs))
	copy(sortedIDs, fundIDs)
	sort.Slice(sortedIDs, func(i, j int) bool { return sortedIDs[i] < sortedIDs[j] })

	if dateKey == "" {
		dateKey = latestDateKey
	}

	payload := fingerprintPayload{
		FundIDs:   sortedIDs,
		Date:      dateKey,
		CashFlows: make([]fingerprintFlow, 0, len(flows)),
	}
	for _, cf := range flows {
		payload.CashFlows = append(payload.CashFlows, fingerprintFlow{
			Date:   cf.Date.Format("2006-01-02"),
			Amount: cf.Amount,
		})
	}
	for fundID, amount := range valuations {
		payload.Valuations = append(payload.Valuations, fingerprintValuation{FundID: fundID, Amount: amount})
	}
	sort.Slice(payload.Valuations, func(i, j int) bool {
		return payload.Valuations[i].FundID < payload.Valuations[j].FundID
	})

	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a struct of plain values cannot realistically fail;
		// log and fall back to an empty key rather than panic.
		logger.L.Error("Failed to marshal IRR cache fingerprint payload", "error", err)
		return ""
	}
	digest := sha256.Sum256(raw)
	return hex.EncodeToString(digest[:])
}

// Get returns the cached result for the given calculation inputs. Expired
// entries count as misses and are deleted opportunistically.
func (c *IRRCache) Get(fundIDs []int64, dateKey string, flows irr.MonthlyCashFlowVector, valuations map[int64]float64) (IRRCalculationResult, bool) {
	key := fingerprint(fundIDs, dateKey, flows, valuations)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		return IRRCalculationResult{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(key)
		return IRRCalculationResult{}, false
	}
	result := entry.result
	result.CacheHit = true
	return result, true
}

// Set stores a calculation result. An optional TTL override applies to this
// entry only.
func (c *IRRCache) Set(fundIDs []int64, dateKey string, flows irr.MonthlyCashFlowVector, valuations map[int64]float64, result IRRCalculationResult, ttlOverride ...time.Duration) {
	key := fingerprint(fundIDs, dateKey, flows, valuations)
	ttl := c.ttl
	if len(ttlOverride) > 0 && ttlOverride[0] > 0 {
		ttl = ttlOverride[0]
	}

	ids := make([]int64, len(fundIDs))
	copy(ids, fundIDs)

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.entries[key]; found {
		c.removeLocked(key)
	}
	c.entries[key] = &irrCacheEntry{
		result:    result,
		createdAt: now,
		expiresAt: now.Add(ttl),
		fundIDs:   ids,
	}
	for _, fundID := range ids {
		if c.byFund[fundID] == nil {
			c.byFund[fundID] = make(map[string]struct{})
		}
		c.byFund[fundID][key] = struct{}{}
	}
}

// Invalidate removes every entry whose fund id list contains any of the
// given ids and returns the number of entries removed.
func (c *IRRCache) Invalidate(fundIDs []int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, fundID := range fundIDs {
		for key := range c.byFund[fundID] {
			if _, found := c.entries[key]; found {
				c.removeLocked(key)
				removed++
			}
		}
	}
	return removed
}

// ClearExpired reclaims all expired entries in bulk and returns the count.
func (c *IRRCache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Stats reports total, active and expired entry counts.
func (c *IRRCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	stats := CacheStats{Total: len(c.entries)}
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			stats.Expired++
		} else {
			stats.Active++
		}
	}
	return stats
}

// removeLocked deletes an entry and its fund-index references. Callers must
// hold the mutex.
func (c *IRRCache) removeLocked(key string) {
	entry, found := c.entries[key]
	if !found {
		return
	}
	delete(c.entries, key)
	for _, fundID := range entry.fundIDs {
		if keys, ok := c.byFund[fundID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byFund, fundID)
			}
		}
	}
}
