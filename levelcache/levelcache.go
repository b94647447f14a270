// Package levelcache persists resource entities in a local LevelDB
// database, implementing the resource.EntityCache interface. It suits the
// raw and decoding pipeline stages, where content is still bytes or text.
//
// Entries older than the configured maximum age are pruned on a cron
// schedule, so abandoned resources do not accumulate on disk forever.
package levelcache

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"github.com/restkit/restkit/logger"
	"github.com/restkit/restkit/resource"
	"github.com/robfig/cron/v3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

// entryPrefix namespaces entity records, leaving room for future record
// kinds in the same database.
const entryPrefix = "e:"

// Cache is a resource.EntityCache backed by LevelDB.
type Cache struct {
	log    logger.Logger
	db     *leveldb.DB
	maxAge time.Duration
	sched  *cron.Cron
	closed atomic.Bool
}

// New opens (or creates) the database at cfg.Path and starts the prune
// scheduler. Close must be called to release the database.
func New(log logger.Logger, cfg *Config) (*Cache, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		defaults := DefaultConfig()
		if cfg.MaxAge == 0 {
			cfg.MaxAge = defaults.MaxAge
		}
		if cfg.PruneSpec == "" {
			cfg.PruneSpec = defaults.PruneSpec
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(cfg.Path, nil)
	if err != nil {
		return nil, ErrOpen(cfg.Path, err)
	}

	c := &Cache{
		log:    log,
		db:     db,
		maxAge: cfg.MaxAge,
	}

	c.sched = cron.New()
	if _, err := c.sched.AddFunc(cfg.PruneSpec, func() {
		if n, err := c.Prune(time.Now()); err != nil {
			log.Warn("prune failed", zap.Error(err))
		} else if n > 0 {
			log.Info("pruned expired entities", zap.Int("removed", n))
		}
	}); err != nil {
		_ = db.Close()
		return nil, ErrInvalidPruneSpec(cfg.PruneSpec, err)
	}
	c.sched.Start()

	log.Info("levelcache opened",
		zap.String("path", cfg.Path),
		zap.Duration("max_age", cfg.MaxAge),
		zap.String("prune_spec", cfg.PruneSpec),
	)
	return c, nil
}

// record is the serialized form of an entity. Only byte and string content
// is persistable; typed content from later pipeline stages is skipped.
type record struct {
	Content         []byte
	ContentIsString bool
	ContentType     string
	Charset         string
	ETag            string
	Headers         map[string][]string
	Timestamp       time.Time
}

// Key derives a stable storage key from the resource URL.
func (c *Cache) Key(resourceURL string) (string, bool) {
	sum := sha1.Sum([]byte(resourceURL))
	return hex.EncodeToString(sum[:]), true
}

// ReadEntity returns the stored entity for key, or nil when absent.
func (c *Cache) ReadEntity(key string) (*resource.Entity, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	raw, err := c.db.Get(storageKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrRead(key, err)
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, ErrDecode(key, err)
	}

	var content any = rec.Content
	if rec.ContentIsString {
		content = string(rec.Content)
	}
	return &resource.Entity{
		Content:     content,
		ContentType: rec.ContentType,
		Charset:     rec.Charset,
		ETag:        rec.ETag,
		Headers:     rec.Headers,
		Timestamp:   rec.Timestamp,
	}, nil
}

// WriteEntity stores the entity under key. Entities whose content is
// neither []byte nor string are skipped with a warning: bind this cache to
// a stage that still carries raw or textual content.
func (c *Cache) WriteEntity(entity *resource.Entity, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	rec := record{
		ContentType: entity.ContentType,
		Charset:     entity.Charset,
		ETag:        entity.ETag,
		Headers:     entity.Headers,
		Timestamp:   entity.Timestamp,
	}
	switch content := entity.Content.(type) {
	case []byte:
		rec.Content = content
	case string:
		rec.Content = []byte(content)
		rec.ContentIsString = true
	default:
		c.log.Warn("skipping non-persistable entity content",
			zap.String("key", key),
			zap.String("content_type", entity.ContentType),
		)
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return ErrEncode(key, err)
	}
	if err := c.db.Put(storageKey(key), buf.Bytes(), nil); err != nil {
		return ErrWrite(key, err)
	}
	return nil
}

// UpdateEntityTimestamp refreshes the stored timestamp after a 304
// confirmed the content is still current. Missing entries are a no-op.
func (c *Cache) UpdateEntityTimestamp(timestamp time.Time, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	raw, err := c.db.Get(storageKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return ErrRead(key, err)
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return ErrDecode(key, err)
	}
	rec.Timestamp = timestamp

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return ErrEncode(key, err)
	}
	if err := c.db.Put(storageKey(key), buf.Bytes(), nil); err != nil {
		return ErrWrite(key, err)
	}
	return nil
}

// RemoveEntity deletes the stored entity, if any.
func (c *Cache) RemoveEntity(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.db.Delete(storageKey(key), nil); err != nil {
		return ErrWrite(key, err)
	}
	return nil
}

// Prune removes every entity whose timestamp is older than MaxAge relative
// to now, returning how many were removed. Runs on the cron schedule and
// may be called directly.
func (c *Cache) Prune(now time.Time) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	batch := new(leveldb.Batch)
	it := c.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer it.Release()

	removed := 0
	for it.Next() {
		var rec record
		if err := gob.NewDecoder(bytes.NewReader(it.Value())).Decode(&rec); err != nil {
			// Unreadable records are garbage; drop them too.
			batch.Delete(append([]byte(nil), it.Key()...))
			removed++
			continue
		}
		if now.Sub(rec.Timestamp) > c.maxAge {
			batch.Delete(append([]byte(nil), it.Key()...))
			removed++
		}
	}
	if err := it.Error(); err != nil {
		return 0, ErrRead("", err)
	}
	if removed > 0 {
		if err := c.db.Write(batch, nil); err != nil {
			return 0, ErrWrite("", err)
		}
	}
	return removed, nil
}

// Close stops the prune scheduler and releases the database. Further
// operations return ErrClosed.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.sched.Stop()
	return c.db.Close()
}

func storageKey(key string) []byte {
	return []byte(entryPrefix + key)
}
