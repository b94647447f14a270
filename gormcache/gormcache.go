// Package gormcache persists resource entities in a relational database
// through GORM, implementing the resource.EntityCache interface. It suits
// deployments that already run MySQL and want cached entities to survive
// process restarts and be shared between instances.
//
// Like levelcache, only byte and string content is persistable; bind this
// cache to the raw or decoding pipeline stages.
package gormcache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/restkit/restkit/logger"
	"github.com/restkit/restkit/resource"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glogger "gorm.io/gorm/logger"
)

// cachedEntity is the row form of a stored entity. Headers are kept as a
// JSON blob since they are never queried, only round-tripped.
type cachedEntity struct {
	Key             string    `gorm:"column:cache_key;primaryKey;size:64"`
	Content         []byte    `gorm:"type:longblob"`
	ContentIsString bool      `gorm:"column:content_is_string"`
	ContentType     string    `gorm:"size:255"`
	Charset         string    `gorm:"size:64"`
	ETag            string    `gorm:"column:etag;size:255"`
	Headers         []byte    `gorm:"type:blob"`
	Timestamp       time.Time `gorm:"index"`
}

func (cachedEntity) TableName() string { return "resource_entities" }

// Cache is a resource.EntityCache backed by a GORM database.
type Cache struct {
	log    logger.Logger
	db     *gorm.DB
	maxAge time.Duration
	ownsDB bool
	closed atomic.Bool
}

// New wraps an existing GORM database as an entity cache, migrating the
// backing table. The caller keeps ownership of db; Close on the returned
// cache will not close it.
func New(log logger.Logger, db *gorm.DB, maxAge time.Duration) (*Cache, error) {
	if log == nil {
		log = logger.Nop()
	}
	if maxAge <= 0 {
		maxAge = DefaultConfig().MaxAge
	}
	if err := db.AutoMigrate(&cachedEntity{}); err != nil {
		return nil, ErrMigrate(err)
	}
	return &Cache{log: log, db: db, maxAge: maxAge}, nil
}

// Open connects to MySQL per cfg, migrates the backing table and returns
// the cache. Close must be called to release the connection pool.
func Open(log logger.Logger, cfg *Config) (*Cache, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		// merge default values for empty fields
		cfg = cfg.MergeDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// set gorm logger level
	var gormLogLevel glogger.LogLevel
	switch strings.ToLower(cfg.LogLevel) {
	case "silent":
		gormLogLevel = glogger.Silent
	case "error":
		gormLogLevel = glogger.Error
	case "warn":
		gormLogLevel = glogger.Warn
	case "info":
		gormLogLevel = glogger.Info
	default:
		gormLogLevel = glogger.Warn
	}

	// create custom gorm logger with zap backend
	customLogger := &gormLogger{
		logger:        log,
		level:         gormLogLevel,
		slowThreshold: cfg.SlowThreshold,
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger:                                   customLogger,
		PrepareStmt:                              true,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, ErrConnection(err)
	}
	sqldb, err := db.DB()
	if err != nil {
		return nil, ErrConnection(err)
	}

	// set connection pool settings
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// test connection
	if err := sqldb.Ping(); err != nil {
		return nil, ErrConnection(err)
	}

	c, err := New(log, db, cfg.MaxAge)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	c.ownsDB = true

	log.Info("gormcache opened",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Duration("max_age", cfg.MaxAge),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return c, nil
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
	var row cachedEntity
	err := c.db.First(&row, "cache_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrRead(key, err)
	}

	var headers map[string][]string
	if len(row.Headers) > 0 {
		if err := json.Unmarshal(row.Headers, &headers); err != nil {
			return nil, ErrDecode(key, err)
		}
	}

	var content any = row.Content
	if row.ContentIsString {
		content = string(row.Content)
	}
	return &resource.Entity{
		Content:     content,
		ContentType: row.ContentType,
		Charset:     row.Charset,
		ETag:        row.ETag,
		Headers:     headers,
		Timestamp:   row.Timestamp,
	}, nil
}

// WriteEntity stores the entity under key, replacing any previous row.
// Entities whose content is neither []byte nor string are skipped with a
// warning: bind this cache to a stage that still carries raw or textual
// content.
func (c *Cache) WriteEntity(entity *resource.Entity, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	row := cachedEntity{
		Key:         key,
		ContentType: entity.ContentType,
		Charset:     entity.Charset,
		ETag:        entity.ETag,
		Timestamp:   entity.Timestamp,
	}
	switch content := entity.Content.(type) {
	case []byte:
		row.Content = content
	case string:
		row.Content = []byte(content)
		row.ContentIsString = true
	default:
		c.log.Warn("skipping non-persistable entity content",
			zap.String("key", key),
			zap.String("content_type", entity.ContentType),
		)
		return nil
	}

	if len(entity.Headers) > 0 {
		headers, err := json.Marshal(entity.Headers)
		if err != nil {
			return ErrEncode(key, err)
		}
		row.Headers = headers
	}

	err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return ErrWrite(key, err)
	}
	return nil
}

// UpdateEntityTimestamp refreshes the stored timestamp after a 304
// confirmed the content is still current. Missing rows are a no-op.
func (c *Cache) UpdateEntityTimestamp(timestamp time.Time, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	err := c.db.Model(&cachedEntity{}).
		Where("cache_key = ?", key).
		Update("timestamp", timestamp).Error
	if err != nil {
		return ErrWrite(key, err)
	}
	return nil
}

// RemoveEntity deletes the stored entity, if any.
func (c *Cache) RemoveEntity(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	err := c.db.Delete(&cachedEntity{}, "cache_key = ?", key).Error
	if err != nil {
		return ErrWrite(key, err)
	}
	return nil
}

// Prune removes every entity whose timestamp is older than MaxAge relative
// to now, returning how many were removed.
func (c *Cache) Prune(now time.Time) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	res := c.db.Delete(&cachedEntity{}, "timestamp < ?", now.Add(-c.maxAge))
	if res.Error != nil {
		return 0, ErrWrite("", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Close releases the connection pool if this cache opened it. Caches
// created with New leave the database to their caller. Idempotent.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if !c.ownsDB {
		return nil
	}
	sqldb, err := c.db.DB()
	if err != nil {
		return ErrConnection(err)
	}
	return sqldb.Close()
}
