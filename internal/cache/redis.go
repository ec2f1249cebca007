// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulkita2007/meter-system/internal/data"
)

// lastReadingTTL expires entries for meters that stopped reporting.
const lastReadingTTL = 24 * time.Hour

// ReadingCache keeps the latest reading per device in Redis so the
// dashboard endpoints can decorate responses without a table scan.
type ReadingCache struct {
	rdb    *redis.Client
	logger *log.Logger
}

func New(ctx context.Context, addr string, logger *log.Logger) (*ReadingCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis not reachable: %w", err)
	}
	return &ReadingCache{rdb: rdb, logger: logger}, nil
}

func key(deviceID string) string {
	return "meter:last:" + deviceID
}

// SetLast overwrites the cached latest reading for a device. Cache
// failures are logged, not returned: the reading is already persisted.
func (c *ReadingCache) SetLast(ctx context.Context, r *data.Reading) {
	buf, err := json.Marshal(r)
	if err != nil {
		c.logger.Printf("cache encode error for %s: %v", r.DeviceID, err)
		return
	}
	if err := c.rdb.Set(ctx, key(r.DeviceID), buf, lastReadingTTL).Err(); err != nil {
		c.logger.Printf("cache write error for %s: %v", r.DeviceID, err)
	}
}

// GetLast returns the cached latest reading for a device, if any.
func (c *ReadingCache) GetLast(ctx context.Context, deviceID string) (*data.Reading, bool) {
	val, err := c.rdb.Get(ctx, key(deviceID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("cache read error for %s: %v", deviceID, err)
		}
		return nil, false
	}
	var r data.Reading
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		c.logger.Printf("cache decode error for %s: %v", deviceID, err)
		return nil, false
	}
	return &r, true
}

func (c *ReadingCache) Close() {
	_ = c.rdb.Close()
}
