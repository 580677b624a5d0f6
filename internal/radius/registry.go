package radius

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"gorm.io/gorm"
)

// ErrUnknownNAS means no active NAS client matches the request source.
// Callers drop the datagram silently; replying would leak the server's
// existence to unauthenticated peers.
var ErrUnknownNAS = errors.New("unknown NAS client")

const (
	nasCacheKeyPrefix = "radius:nas:"
	nasCacheTTL       = 5 * time.Minute

	// Sentinel cached for lookups that found nothing, so a flood from an
	// unknown source does not hammer the database
	nasCacheMiss = "null"
)

// cachedNAS is the Redis representation of a NAS client. The model's JSON
// form hides the shared secret from API responses, so the cache uses its
// own shape.
type cachedNAS struct {
	ID           uint   `json:"id"`
	Identifier   string `json:"identifier"`
	IPAddress    string `json:"ip_address"`
	SharedSecret string `json:"shared_secret"`
}

// Registry resolves RADIUS peers to their shared secrets. Lookups are
// keyed on (source IP, NAS-Identifier) and cached in Redis with a short
// TTL; when Redis is down every lookup goes straight to the database.
type Registry struct {
	db    *gorm.DB
	redis *redis.Client
	logs  *logstore.Store
}

func NewRegistry(db *gorm.DB, rdb *redis.Client, logs *logstore.Store) *Registry {
	return &Registry{db: db, redis: rdb, logs: logs}
}

func nasCacheKey(ip, identifier string) string {
	return fmt.Sprintf("%s%s:%s", nasCacheKeyPrefix, ip, identifier)
}

// Find returns the active NAS client matching the source IP and the
// NAS-Identifier from the packet. Matching is strict: a NAS registered at
// the same IP under a different identifier never matches. An empty
// identifier matches any active NAS at that IP.
func (r *Registry) Find(ctx context.Context, ip, identifier string) (*models.NASClient, error) {
	key := nasCacheKey(ip, identifier)

	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, key).Result(); err == nil {
			if cached == nasCacheMiss {
				return nil, ErrUnknownNAS
			}
			var entry cachedNAS
			if err := json.Unmarshal([]byte(cached), &entry); err == nil {
				return &models.NASClient{
					ID:           entry.ID,
					Identifier:   entry.Identifier,
					IPAddress:    entry.IPAddress,
					SharedSecret: entry.SharedSecret,
				}, nil
			}
			// Corrupt entry, fall through to the database
		}
	}

	query := r.db.WithContext(ctx).Where("ip_address = ? AND is_active = ?", ip, true)
	if identifier != "" {
		query = query.Where("identifier = ?", identifier)
	}

	var nas models.NASClient
	err := query.First(&nas).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.cacheSet(ctx, key, nasCacheMiss)
		return nil, ErrUnknownNAS
	}
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cachedNAS{
		ID:           nas.ID,
		Identifier:   nas.Identifier,
		IPAddress:    nas.IPAddress,
		SharedSecret: nas.SharedSecret,
	}); err == nil {
		r.cacheSet(ctx, key, string(data))
	}
	return &nas, nil
}

func (r *Registry) cacheSet(ctx context.Context, key, value string) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Set(ctx, key, value, nasCacheTTL).Err(); err != nil {
		r.logs.Warnf("nas_registry", "failed to cache NAS lookup: %v", err)
	}
}

// InvalidateAll removes every cached NAS entry, positive and negative.
// Called by the admin API after any NAS client mutation so secret changes
// take effect within one request instead of one TTL.
func (r *Registry) InvalidateAll(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}

	iter := r.redis.Scan(ctx, 0, nasCacheKeyPrefix+"*", 100).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := r.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if deleted > 0 {
		r.logs.Debugf("nas_registry", "invalidated %d cached NAS entries", deleted)
	}
	return nil
}
