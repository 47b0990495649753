// Package cache keeps cost summaries and daily trends with a time-to-live so
// repeated refreshes do not hit the billing APIs. An entry is FRESH until
// its age exceeds the TTL, after which reads treat it as absent without
// deleting it. Writes overwrite whole entries.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/clock"
	"cloudbridge/internal/logging"
)

// DefaultTTL is how long a fetched result stays fresh
const DefaultTTL = 6 * time.Hour

const (
	summaryPrefix = "summary/"
	trendPrefix   = "trend/"
)

// Entry wraps a cached value with the time it was stored
type Entry[T any] struct {
	Value    T         `json:"value"`
	CachedAt time.Time `json:"cached_at"`
}

// Cache is a TTL store over a Backend. Reads run concurrently; writes to the
// same key are serialized.
type Cache struct {
	backend Backend
	ttl     time.Duration
	clock   clock.Clock
	locks   sync.Map // key -> *sync.Mutex
}

// Option configures a Cache
type Option func(*Cache)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source used for stamping and expiry
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clk
	}
}

// New creates a cache over backend
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     DefaultTTL,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) keyLock(key string) *sync.Mutex {
	lock, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (c *Cache) fresh(cachedAt time.Time) bool {
	return c.clock.Now().Sub(cachedAt) <= c.ttl
}

// Get returns the value for key when present and fresh
func Get[T any](c *Cache, key string) (T, bool) {
	var zero T
	entry, ok := load[T](c, key)
	if !ok || !c.fresh(entry.CachedAt) {
		return zero, false
	}
	return entry.Value, true
}

func load[T any](c *Cache, key string) (Entry[T], bool) {
	var entry Entry[T]
	data, ok, err := c.backend.Load(key)
	if err != nil {
		logging.Warn("Cache read failed, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return entry, false
	}
	if !ok {
		return entry, false
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		logging.Warn("Discarding unreadable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return entry, false
	}
	return entry, true
}

// Put overwrites the value for key and stamps it with the current time
func Put[T any](c *Cache, key string, value T) error {
	data, err := json.Marshal(Entry[T]{Value: value, CachedAt: c.clock.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := c.backend.Store(key, data); err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes one key
func (c *Cache) Invalidate(key string) error {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return c.backend.Delete(key)
}

func (c *Cache) invalidatePrefix(prefix string) error {
	keys, err := c.backend.Keys(prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := c.Invalidate(key); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll deletes every entry
func (c *Cache) InvalidateAll() error {
	return c.invalidatePrefix("")
}

// InvalidateAccount deletes the summary and all trend days of one account
func (c *Cache) InvalidateAccount(accountID string) error {
	if err := c.Invalidate(SummaryKey(accountID)); err != nil {
		return err
	}
	return c.invalidatePrefix(trendAccountPrefix(accountID))
}

// SummaryKey is the cache key of an account's summary
func SummaryKey(accountID string) string {
	return summaryPrefix + accountID
}

func trendAccountPrefix(accountID string) string {
	return trendPrefix + accountID + "/"
}

// TrendDayKey is the cache key of one day of an account's trend
func TrendDayKey(accountID, date string) string {
	return trendAccountPrefix(accountID) + date
}

// GetSummary returns the fresh cached summary of an account
func (c *Cache) GetSummary(accountID string) (*billing.CostSummary, bool) {
	s, ok := Get[billing.CostSummary](c, SummaryKey(accountID))
	if !ok {
		return nil, false
	}
	return &s, true
}

// PutSummary stores a summary under its account
func (c *Cache) PutSummary(s *billing.CostSummary) error {
	return Put(c, SummaryKey(s.AccountID), *s)
}

// trendDay is one cached day of a trend. Recorded is false for days the
// provider returned nothing for, so a range can still be fully covered.
type trendDay struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Recorded bool            `json:"recorded"`
}

// GetTrend returns the cached trend for r only if every day in r is fresh
func (c *Cache) GetTrend(accountID string, r billing.DateRange) (*billing.CostTrend, bool) {
	days := r.Days()
	if len(days) == 0 {
		return nil, false
	}

	trend := &billing.CostTrend{AccountID: accountID, DailyCosts: []billing.DailyCost{}}
	for _, date := range days {
		day, ok := Get[trendDay](c, TrendDayKey(accountID, date))
		if !ok {
			return nil, false
		}
		if day.Currency != "" {
			trend.Currency = day.Currency
		}
		if day.Recorded {
			trend.DailyCosts = append(trend.DailyCosts, billing.DailyCost{Date: date, Amount: day.Amount})
		}
	}
	return trend, true
}

// PutTrend stores every day of r for the trend's account, marking days the
// trend does not contain as unrecorded. Skipped days are not stored, so a
// later lookup of r misses until they have been fetched.
func (c *Cache) PutTrend(t *billing.CostTrend, r billing.DateRange) error {
	recorded := make(map[string]decimal.Decimal, len(t.DailyCosts))
	for _, d := range t.DailyCosts {
		recorded[d.Date] = d.Amount
	}

	skipped := make(map[string]bool, len(t.SkippedDates))
	for _, date := range t.SkippedDates {
		skipped[date] = true
	}
	for _, date := range r.Days() {
		if skipped[date] {
			continue
		}
		amount, ok := recorded[date]
		day := trendDay{Amount: amount, Currency: t.Currency, Recorded: ok}
		if err := Put(c, TrendDayKey(t.AccountID, date), day); err != nil {
			return err
		}
	}
	return nil
}
