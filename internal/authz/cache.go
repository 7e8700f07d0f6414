package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "authz:version"
	bumpChannel     = "authz.bump"
)

// DecisionCache memoizes resolver outputs in Redis. Entries are keyed by
// (kind, subject, target) plus a global version counter; any grant or entity
// mutation bumps the version, orphaning every prior entry at once.
// Over-invalidation is acceptable, a stale positive is not. A bounded TTL
// backstops invalidation paths that bypass the normal mutation surface.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionCache instantiates the cache helper. A nil client disables
// caching entirely; every lookup misses.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	return &DecisionCache{client: client, ttl: ttl}
}

// cacheEntry is the stored decision plus the interval of instants it is
// valid for. A hit outside [NotBefore, NotAfter) is treated as a miss and
// recomputed, so window expiry is honoured even before the version moves.
type cacheEntry struct {
	Decision   string     `json:"d"`
	NotBefore  *time.Time `json:"nb,omitempty"`
	NotAfter   *time.Time `json:"na,omitempty"`
	ComputedAt time.Time  `json:"at"`
}

// Version returns the current cache version, initialising it when missing.
func (c *DecisionCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *DecisionCache) key(ver int64, kind RelationKind, subjectID, targetID int64) string {
	return fmt.Sprintf("authz:decision:%s:%d:%d:%d", kind, subjectID, targetID, ver)
}

// Get returns a cached decision valid at now. The second return is false on
// a miss, a decode failure, or an entry whose stability interval does not
// contain now.
func (c *DecisionCache) Get(ctx context.Context, kind RelationKind, subjectID, targetID int64, now time.Time) (Decision, bool) {
	if c == nil || c.client == nil {
		return Deny, false
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return Deny, false
	}
	payload, err := c.client.Get(ctx, c.key(ver, kind, subjectID, targetID)).Bytes()
	if err != nil {
		return Deny, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Deny, false
	}
	if entry.NotBefore != nil && now.Before(*entry.NotBefore) {
		return Deny, false
	}
	if entry.NotAfter != nil && !now.Before(*entry.NotAfter) {
		return Deny, false
	}
	if entry.Decision == Allow.String() {
		return Allow, true
	}
	return Deny, true
}

// Put stores a decision together with its stability interval.
func (c *DecisionCache) Put(ctx context.Context, kind RelationKind, subjectID, targetID int64, decision Decision, notBefore, notAfter *time.Time, now time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return err
	}
	entry := cacheEntry{
		Decision:   decision.String(),
		NotBefore:  notBefore,
		NotAfter:   notAfter,
		ComputedAt: now,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(ver, kind, subjectID, targetID), payload, c.ttl).Err()
}

// Bump invalidates every cached decision by incrementing the global version
// and publishing the new value for other processes. Callers must bump only
// after their transaction commits; bumping first would let a concurrent read
// repopulate the cache from the pre-mutation snapshot.
func (c *DecisionCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// versionWriteBack advances the stored version to the observed one only when
// the observed value is ahead. Notifications can arrive late, duplicated, or
// out of order; a backwards write would resurrect every entry stored before
// the later mutation, which is exactly the stale positive the versioning
// exists to prevent.
var versionWriteBack = redis.NewScript(`local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local new = tonumber(ARGV[1])
if new > cur then
	redis.call('SET', KEYS[1], new)
	return new
end
return cur`)

// observeVersion records a version learned from a bump notification. The
// write is monotonic; stale observations leave the stored version untouched.
func (c *DecisionCache) observeVersion(ctx context.Context, ver int64) error {
	return versionWriteBack.Run(ctx, c.client, []string{cacheVersionKey}, ver).Err()
}

// ListenForInvalidation subscribes to version bump notifications published by
// other processes, keeping the shared version current.
func (c *DecisionCache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil && ver > 0 {
					_ = c.observeVersion(ctx, ver)
				}
			}
		}
	}()
	return nil
}
