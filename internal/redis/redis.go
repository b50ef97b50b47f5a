package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"

	"github.com/go-redis/redis/v8"
)

// Key prefixes.
const (
	keyPrefixShipper = "shipper"
)

// presenceTTL bounds how long a shipper counts as live without any report.
const presenceTTL = 2 * time.Minute

// Client stores live shipper presence and last-known locations.
type Client struct {
	client *redis.Client
	log    *logger.Logger
}

// Connect opens the Redis connection.
func Connect(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Successfully connected to Redis")

	return &Client{
		client: rdb,
		log:    log,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health pings Redis.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.client.Ping(ctx).Result()
	return err
}

func shipperKey(shipperID string) string {
	return fmt.Sprintf("%s:%s", keyPrefixShipper, shipperID)
}

// SetShipperLocation records the shipper's last reported position.
func (c *Client) SetShipperLocation(ctx context.Context, shipperID string, point geo.Point) error {
	key := shipperKey(shipperID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"latitude":   point.Latitude,
		"longitude":  point.Longitude,
		"updated_at": time.Now().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store location for shipper %s: %w", shipperID, err)
	}

	c.log.WithField("shipper_id", shipperID).Debug("Shipper location stored")
	return nil
}

// GetShipperLocation returns the shipper's last reported position. The
// second value is false when the shipper has no live record.
func (c *Client) GetShipperLocation(ctx context.Context, shipperID string) (geo.Point, bool, error) {
	values, err := c.client.HGetAll(ctx, shipperKey(shipperID)).Result()
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("failed to get location for shipper %s: %w", shipperID, err)
	}
	if len(values) == 0 {
		return geo.Point{}, false, nil
	}

	lat, err1 := strconv.ParseFloat(values["latitude"], 64)
	lon, err2 := strconv.ParseFloat(values["longitude"], 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, false, fmt.Errorf("corrupt location record for shipper %s", shipperID)
	}

	return geo.Point{Latitude: lat, Longitude: lon}, true, nil
}

// SetShipperOnline flips the shipper's availability flag.
func (c *Client) SetShipperOnline(ctx context.Context, shipperID string, online bool) error {
	key := shipperKey(shipperID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, "online", strconv.FormatBool(online))
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set availability for shipper %s: %w", shipperID, err)
	}

	c.log.WithFields(map[string]interface{}{
		"shipper_id": shipperID,
		"online":     online,
	}).Debug("Shipper availability stored")
	return nil
}

// IsShipperOnline reports whether the shipper is marked available.
func (c *Client) IsShipperOnline(ctx context.Context, shipperID string) (bool, error) {
	val, err := c.client.HGet(ctx, shipperKey(shipperID), "online").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get availability for shipper %s: %w", shipperID, err)
	}
	return val == "true", nil
}
