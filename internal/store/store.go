package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/mmcdole/kinosync/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	envelopeVersion = 1
	keySep          = "\x00"
	dbFile          = "cache.db"
)

// Bucket names. Payload buckets are created per resource type on first write.
var (
	bucketConditional = []byte("conditional")
	payloadPrefix     = "res:"
)

// Entry is a cached payload with its bookkeeping.
type Entry struct {
	Payload  []byte
	StoredAt time.Time
	Checksum string
}

// Age returns how long ago the entry was stored or last revalidated.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// envelope is the on-disk format: versioned, self-describing JSON.
type envelope struct {
	Version  int       `json:"v"`
	StoredAt time.Time `json:"stored_at"`
	Checksum string    `json:"checksum"`
	Payload  []byte    `json:"payload"`
}

// Options configures a Cache.
type Options struct {
	MemoryEntries  int
	ConditionalTTL time.Duration
	Observers      []domain.CacheObserver
	Logger         *slog.Logger
	Now            func() time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	MemoryLen  int
	MemoryCap  int
	Corruption int64
}

// Cache is a two-tier key/value cache: an LRU memory tier in front of a
// bbolt disk tier. Writes go through both tiers; the memory tier is always
// a subset of the disk tier.
type Cache struct {
	db *bolt.DB

	mu  sync.Mutex // Protects the memory tier and gen
	mem *lru
	gen uint64 // Bumped whenever disk entries are removed

	events         *dispatcher
	conditionalTTL time.Duration
	now            func() time.Time
	logger         *slog.Logger

	hits, misses, evictions, corrupt atomic.Int64
}

// Open opens (or creates) the cache database under dir. An empty dir yields
// a memory-only cache with no persistence.
func Open(dir string, opts Options) (*Cache, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConditionalTTL <= 0 {
		opts.ConditionalTTL = DefaultPolicy().Conditional
	}

	c := &Cache{
		mem:            newLRU(opts.MemoryEntries),
		events:         newDispatcher(opts.Observers, opts.Logger),
		conditionalTTL: opts.ConditionalTTL,
		now:            opts.Now,
		logger:         opts.Logger,
	}

	if dir == "" {
		return c, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		c.events.close()
		return nil, err
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		c.events.close()
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConditional)
		return err
	})
	if err != nil {
		db.Close()
		c.events.close()
		return nil, err
	}

	c.db = db
	return c, nil
}

// Close flushes pending diagnostics and closes the database.
func (c *Cache) Close() error {
	c.events.close()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the entry if present and younger than ttl. The memory tier is
// consulted first; a disk hit is promoted into memory.
func (c *Cache) Get(t domain.ResourceType, key string, ttl time.Duration) (Entry, bool) {
	return c.GetWithin(t, key, func([]byte, time.Time) time.Duration { return ttl })
}

// GetWithin is Get with a freshness window computed from the payload, for
// resources whose window depends on their content.
func (c *Cache) GetWithin(t domain.ResourceType, key string, window func(payload []byte, now time.Time) time.Duration) (Entry, bool) {
	now := c.now()
	e, tier, ok := c.lookup(t, key)
	if !ok {
		c.miss(domain.CacheMiss, t, key)
		return Entry{}, false
	}
	if e.Age(now) > window(e.Payload, now) {
		c.miss(domain.CacheExpire, t, key)
		return Entry{}, false
	}
	c.hits.Add(1)
	c.emit(tier, t, key)
	return e, true
}

// Peek returns the entry regardless of age. It refreshes recency but is not
// counted as a hit or a miss.
func (c *Cache) Peek(t domain.ResourceType, key string) (Entry, bool) {
	e, _, ok := c.lookup(t, key)
	return e, ok
}

// lookup finds key in memory, then on disk, promoting disk entries. It
// reports which tier answered as the hit event to emit.
func (c *Cache) lookup(t domain.ResourceType, key string) (Entry, domain.CacheEventType, bool) {
	mk := memKey(t, key)

	c.mu.Lock()
	e, ok := c.mem.get(mk)
	gen := c.gen
	c.mu.Unlock()
	if ok {
		return e, domain.CacheHitMemory, true
	}

	e, ok, err := c.readDisk(t, key)
	if err != nil {
		c.logger.Warn("dropping corrupt cache record", "type", t, "key", key, "error", err)
		c.corrupt.Add(1)
		c.emit(domain.CacheCorrupt, t, key)
		c.deleteDisk(t, key)
		return Entry{}, "", false
	}
	if !ok {
		return Entry{}, "", false
	}
	c.promote(t, key, e, gen)
	return e, domain.CacheHitDisk, true
}

func (c *Cache) miss(ev domain.CacheEventType, t domain.ResourceType, key string) {
	c.misses.Add(1)
	c.emit(ev, t, key)
}

// promote copies a disk hit into memory unless entries were removed from
// disk since the read at generation gen.
func (c *Cache) promote(t domain.ResourceType, key string, e Entry, gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	evicted := c.mem.add(memKey(t, key), e)
	c.mu.Unlock()

	c.emit(domain.CachePromote, t, key)
	c.emitEvicted(evicted)
}

func (c *Cache) emitEvicted(keys []string) {
	for _, k := range keys {
		c.evictions.Add(1)
		rt, key := splitMemKey(k)
		c.emit(domain.CacheEvict, rt, key)
	}
}

// Set stores payload in both tiers. The memory tier is updated first; the
// disk write completes before Set returns. On disk failure the memory entry
// is withdrawn so that memory never holds what disk does not.
func (c *Cache) Set(t domain.ResourceType, key string, payload []byte) error {
	e := newEntry(payload, c.now())
	return c.put(t, key, e)
}

func (c *Cache) put(t domain.ResourceType, key string, e Entry) error {
	mk := memKey(t, key)

	c.mu.Lock()
	evicted := c.mem.add(mk, e)
	c.mu.Unlock()
	c.emitEvicted(evicted)

	if err := c.writeDisk(t, key, e); err != nil {
		c.mu.Lock()
		c.mem.remove(mk)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Touch resets an entry's freshness clock without altering its payload.
func (c *Cache) Touch(t domain.ResourceType, key string) error {
	e, ok := c.Peek(t, key)
	if !ok {
		return domain.ErrNotFound
	}
	e.StoredAt = c.now()
	c.emit(domain.CacheRevalidate, t, key)
	return c.put(t, key, e)
}

// GetAge returns the age of an entry, if present.
func (c *Cache) GetAge(t domain.ResourceType, key string) (time.Duration, bool) {
	e, ok := c.Peek(t, key)
	if !ok {
		return 0, false
	}
	return e.Age(c.now()), true
}

// Invalidate removes an entry and its conditional record from both tiers.
func (c *Cache) Invalidate(t domain.ResourceType, key string) {
	c.deleteDisk(t, key)
	c.deleteConditional(t, key)

	c.mu.Lock()
	c.gen++
	c.mem.remove(memKey(t, key))
	c.mu.Unlock()
}

// InvalidateType removes every entry of a resource type.
func (c *Cache) InvalidateType(t domain.ResourceType) {
	prefix := string(t) + keySep
	defer func() {
		c.mu.Lock()
		c.gen++
		c.mem.removeFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
		c.mu.Unlock()
	}()

	if c.db == nil {
		return
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		name := bucketName(t)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return deletePrefix(tx.Bucket(bucketConditional), []byte(prefix))
	})
	if err != nil {
		c.logger.Error("failed to invalidate resource type", "type", t, "error", err)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n, capacity := c.mem.len(), c.mem.capacity
	c.mu.Unlock()
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		MemoryLen:  n,
		MemoryCap:  capacity,
		Corruption: c.corrupt.Load(),
	}
}

// === Disk tier ===

func (c *Cache) readDisk(t domain.ResourceType, key string) (Entry, bool, error) {
	if c.db == nil {
		return Entry{}, false, nil
	}

	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(t))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	if data == nil {
		return Entry{}, false, nil
	}

	e, err := decodeEnvelope(data)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (c *Cache) writeDisk(t domain.ResourceType, key string, e Entry) error {
	if c.db == nil {
		return nil
	}
	data, err := json.Marshal(envelope{
		Version:  envelopeVersion,
		StoredAt: e.StoredAt,
		Checksum: e.Checksum,
		Payload:  e.Payload,
	})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(t))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (c *Cache) deleteDisk(t domain.ResourceType, key string) {
	if c.db == nil {
		return
	}
	c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(t))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// deletePrefix removes all keys in b starting with prefix.
func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	if b == nil {
		return nil
	}
	var keys [][]byte
	cur := b.Cursor()
	for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// === Helpers ===

func newEntry(payload []byte, now time.Time) Entry {
	return Entry{
		Payload:  payload,
		StoredAt: now,
		Checksum: checksum(payload),
	}
}

func decodeEnvelope(data []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
	}
	if env.Version != envelopeVersion {
		return Entry{}, fmt.Errorf("%w: unknown envelope version %d", domain.ErrCorruptRecord, env.Version)
	}
	if checksum(env.Payload) != env.Checksum {
		return Entry{}, fmt.Errorf("%w: checksum mismatch", domain.ErrCorruptRecord)
	}
	return Entry{Payload: env.Payload, StoredAt: env.StoredAt, Checksum: env.Checksum}, nil
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func bucketName(t domain.ResourceType) []byte {
	return []byte(payloadPrefix + string(t))
}

func memKey(t domain.ResourceType, key string) string {
	return string(t) + keySep + key
}

func splitMemKey(k string) (domain.ResourceType, string) {
	t, key, _ := strings.Cut(k, keySep)
	return domain.ResourceType(t), key
}
