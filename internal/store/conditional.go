package store

import (
	"github.com/goccy/go-json"
	"github.com/mmcdole/kinosync/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Conditional records live in their own bucket so that revalidation
// survives payload eviction and sweeps.

// GetConditional returns the stored validators for a resource, if any and
// younger than the conditional lifetime.
func (c *Cache) GetConditional(t domain.ResourceType, key string) (domain.ConditionalMeta, bool) {
	if c.db == nil {
		return domain.ConditionalMeta{}, false
	}

	var data []byte
	c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketConditional).Get([]byte(memKey(t, key))); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return domain.ConditionalMeta{}, false
	}

	var meta domain.ConditionalMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		c.logger.Warn("dropping corrupt conditional record", "type", t, "key", key, "error", err)
		c.corrupt.Add(1)
		c.emit(domain.CacheCorrupt, domain.ResourceConditional, key)
		c.deleteConditional(t, key)
		return domain.ConditionalMeta{}, false
	}
	if c.now().Sub(meta.StoredAt) > c.conditionalTTL {
		return domain.ConditionalMeta{}, false
	}
	return meta, true
}

// SetConditional stores the validators returned with a resource. Empty
// validators clear any previous record.
func (c *Cache) SetConditional(t domain.ResourceType, key string, meta domain.ConditionalMeta) error {
	if c.db == nil {
		return nil
	}
	if meta.Empty() {
		c.deleteConditional(t, key)
		return nil
	}
	meta.StoredAt = c.now()
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConditional).Put([]byte(memKey(t, key)), data)
	})
}

func (c *Cache) deleteConditional(t domain.ResourceType, key string) {
	if c.db == nil {
		return
	}
	c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConditional).Delete([]byte(memKey(t, key)))
	})
}
