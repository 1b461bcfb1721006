package callstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is the networked backend. Values are stored JSON-encoded with a TTL
// refreshed on every write. The read-merge-write cycle in Set is serialized
// per key so two webhook deliveries for the same call cannot interleave a
// partial merge.
type Redis struct {
	client *redis.Client

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock serializes one call's operations. Entries are reference-counted:
// a holder releasing its reference never discards a mutex another holder
// still owns, and the map shrinks back once a call has no in-flight
// operations.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		locks:  make(map[string]*keyLock),
	}
}

func (r *Redis) acquireKey(id string) *keyLock {
	r.mu.Lock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &keyLock{}
		r.locks[id] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (r *Redis) releaseKey(id string, lock *keyLock) {
	lock.mu.Unlock()

	r.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, id)
	}
	r.mu.Unlock()
}

func (r *Redis) Get(ctx context.Context, id string) (any, error) {
	raw, err := r.client.Get(ctx, id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, id, err)
	}
	return decodeValue(raw), nil
}

func (r *Redis) Set(ctx context.Context, id string, value any) error {
	lock := r.acquireKey(id)
	defer r.releaseKey(id, lock)

	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	merged := merge(existing, value)
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, id, err)
	}

	if err := r.client.Set(ctx, id, encoded, DefaultTTL).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, id, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	lock := r.acquireKey(id)
	defer r.releaseKey(id, lock)

	if err := r.client.Del(ctx, id).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, id, err)
	}
	return nil
}

func (r *Redis) Size(ctx context.Context) (int64, error) {
	size, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: dbsize: %v", ErrUnavailable, err)
	}
	return size, nil
}

// decodeValue parses the stored JSON; values written before JSON encoding
// was introduced come back as raw strings.
func decodeValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}
