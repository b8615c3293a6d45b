package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisReplica forwards applied writes to a Redis instance so other
// processes can observe swarm memory. Keys carry a common prefix:
// "<prefix>:<namespace>:<key>".
type RedisReplica struct {
	client *redis.Client
	prefix string
}

// NewRedisReplica connects to the Redis instance at url and verifies the
// connection with a ping before returning.
func NewRedisReplica(url, prefix string) (*RedisReplica, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("memory: parse replication url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("memory: connect to replica: %w", err)
	}

	if prefix == "" {
		prefix = "hive"
	}
	return &RedisReplica{client: client, prefix: prefix}, nil
}

func (r *RedisReplica) formatKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, namespace, key)
}

// Apply stores e unless the replica already holds a higher version for the
// key. The store's apply loop is the sole writer, so read-compare-write
// needs no transaction here.
func (r *RedisReplica) Apply(ctx context.Context, e Entry) error {
	k := r.formatKey(e.Namespace, e.Key)

	cur, err := r.client.Get(ctx, k).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("memory: read replica version: %w", err)
	}
	if err == nil {
		var existing Entry
		if jsonErr := json.Unmarshal([]byte(cur), &existing); jsonErr == nil && existing.Version > e.Version {
			return nil
		}
	}

	payload, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("memory: encode replica entry: %w", err)
	}
	if err := r.client.Set(ctx, k, payload, 0).Err(); err != nil {
		return fmt.Errorf("memory: write replica: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisReplica) Close() error {
	return r.client.Close()
}
