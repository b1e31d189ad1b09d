package cache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FilePersistentCache is a file-backed cache for generated plans, letting a
// restarted process reuse plans from earlier runs. Values must be JSON
// serializable.
type FilePersistentCache struct {
	store     map[string]persistedItem
	mutex     sync.RWMutex
	ttl       time.Duration
	filePath  string
	logger    Logger
	done      chan struct{}
	closeOnce sync.Once
}

type persistedItem struct {
	Value      interface{} `json:"value"`
	Expiration int64       `json:"expiration"`
}

// NewFilePersistentCache creates a new persistent cache with a default TTL
// and file path. An existing cache file is loaded eagerly; load errors are
// ignored and the cache starts empty.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string, logger Logger) *FilePersistentCache {
	c := &FilePersistentCache{
		store:    make(map[string]persistedItem),
		ttl:      defaultTTL,
		filePath: filePath,
		logger:   logger,
		done:     make(chan struct{}),
	}
	c.loadFromFile()
	go c.cleanupLoop(10 * time.Minute)
	return c
}

func (c *FilePersistentCache) loadFromFile() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	file, err := os.Open(c.filePath)
	if err != nil {
		return
	}
	defer file.Close()
	decoder := json.NewDecoder(file)
	_ = decoder.Decode(&c.store)
}

// saveToFile assumes the caller holds at least a read lock.
func (c *FilePersistentCache) saveToFile() {
	file, err := os.Create(c.filePath)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("Failed to persist cache file", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	defer file.Close()
	encoder := json.NewEncoder(file)
	_ = encoder.Encode(c.store)
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if time.Now().UnixNano() > item.Expiration {
		if c.logger != nil {
			c.logger.Info("Persistent cache item expired", map[string]interface{}{"key": key})
		}
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}
	return item.Value, nil
}

// Set adds or updates an item in the cache and writes the file through.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	c.store[key] = persistedItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	c.saveToFile()
	c.mutex.Unlock()

	if c.logger != nil {
		c.logger.Info("Persistent cache item set", map[string]interface{}{"key": key})
	}
	return nil
}

// Close stops the background cleanup goroutine and persists the current
// state. Safe to call more than once.
func (c *FilePersistentCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mutex.Lock()
		c.saveToFile()
		c.mutex.Unlock()
	})
	return nil
}

// cleanupLoop periodically removes expired items and saves the file until
// Close.
func (c *FilePersistentCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now().UnixNano()
			for key, item := range c.store {
				if now > item.Expiration {
					delete(c.store, key)
				}
			}
			c.saveToFile()
			c.mutex.Unlock()
		}
	}
}
