// Package redisstore keeps todos in Redis.
//
// Every key is namespaced by instance name:
//   - todosync:{instance}:todo:{id} is a hash holding one todo
//   - todosync:{instance}:todos is a set of every stored id
//   - todosync:{instance}:last_id is the highest id ever written
//
// Writes update the hash and the index set in one MULTI/EXEC transaction, so
// the index never names a missing hash after a successful write. The store
// satisfies persist.Backend.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/todosync/internal/todo"
)

// Client provides instance-scoped Redis operations for todos.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// TodoKey returns the hash key for one todo.
func TodoKey(instanceName string, id int64) string {
	return fmt.Sprintf("todosync:%s:todo:%d", instanceName, id)
}

// IndexKey returns the key of the id index set.
func IndexKey(instanceName string) string {
	return fmt.Sprintf("todosync:%s:todos", instanceName)
}

// LastIDKey returns the key of the id high-water mark.
func LastIDKey(instanceName string) string {
	return fmt.Sprintf("todosync:%s:last_id", instanceName)
}

// raiseLastID sets KEYS[1] to ARGV[1] only when that is larger.
var raiseLastID = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local next = tonumber(ARGV[1])
if next > current then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// LastID returns the highest id ever written, including deleted ones.
func (c *Client) LastID(ctx context.Context) (int64, error) {
	var last int64
	val, err := c.rdb.Get(ctx, LastIDKey(c.instanceName)).Result()
	switch {
	case err == redis.Nil:
	case err != nil:
		return 0, fmt.Errorf("failed to read last id: %w", err)
	default:
		if last, err = strconv.ParseInt(val, 10, 64); err != nil {
			return 0, fmt.Errorf("corrupt last id %q: %w", val, err)
		}
	}

	members, err := c.rdb.SMembers(ctx, IndexKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read todo index: %w", err)
	}
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt todo index member %q: %w", m, err)
		}
		last = max(last, id)
	}
	return last, nil
}

// LoadAll returns every stored todo in canonical order.
func (c *Client) LoadAll(ctx context.Context) ([]todo.Todo, error) {
	members, err := c.rdb.SMembers(ctx, IndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read todo index: %w", err)
	}

	todos := make([]todo.Todo, 0, len(members))
	if len(members) == 0 {
		return todos, nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt todo index member %q: %w", m, err)
		}
		cmds[i] = pipe.HGetAll(ctx, TodoKey(c.instanceName, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read todos: %w", err)
	}

	for i, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			// Indexed but missing; a write was interrupted outside a transaction.
			continue
		}
		rec, err := HashToTodo(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize todo %s: %w", members[i], err)
		}
		todos = append(todos, rec)
	}

	todo.SortCanonical(todos)
	return todos, nil
}

// WriteUpsert stores rec, replacing any previous value.
func (c *Client) WriteUpsert(ctx context.Context, rec todo.Todo) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, TodoKey(c.instanceName, rec.ID), TodoToHash(rec))
		pipe.SAdd(ctx, IndexKey(c.instanceName), rec.ID)
		raiseLastID.Eval(ctx, pipe, []string{LastIDKey(c.instanceName)}, rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write todo %d to Redis: %w", rec.ID, err)
	}
	return nil
}

// WriteDelete removes id. Deleting a missing id succeeds.
func (c *Client) WriteDelete(ctx context.Context, id int64) error {
	if err := c.WriteDeleteMany(ctx, []int64{id}); err != nil {
		return fmt.Errorf("failed to delete todo %d from Redis: %w", id, err)
	}
	return nil
}

// WriteDeleteMany removes every id in ids in one transaction.
func (c *Client) WriteDeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = TodoKey(c.instanceName, id)
		members[i] = id
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, IndexKey(c.instanceName), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete todos from Redis: %w", err)
	}
	return nil
}

// TodoToHash converts a todo into Redis hash fields.
// created_at is stored as Unix nanoseconds.
func TodoToHash(rec todo.Todo) map[string]interface{} {
	return map[string]interface{}{
		"id":         strconv.FormatInt(rec.ID, 10),
		"text":       rec.Text,
		"completed":  strconv.FormatBool(rec.Completed),
		"created_at": strconv.FormatInt(rec.CreatedAt.UTC().UnixNano(), 10),
	}
}

// HashToTodo converts Redis hash fields back into a todo.
func HashToTodo(hash map[string]string) (todo.Todo, error) {
	id, err := strconv.ParseInt(hash["id"], 10, 64)
	if err != nil {
		return todo.Todo{}, fmt.Errorf("invalid id %q: %w", hash["id"], err)
	}
	completed, err := strconv.ParseBool(hash["completed"])
	if err != nil {
		return todo.Todo{}, fmt.Errorf("invalid completed %q: %w", hash["completed"], err)
	}
	nanos, err := strconv.ParseInt(hash["created_at"], 10, 64)
	if err != nil {
		return todo.Todo{}, fmt.Errorf("invalid created_at %q: %w", hash["created_at"], err)
	}

	return todo.Todo{
		ID:        id,
		Text:      hash["text"],
		Completed: completed,
		CreatedAt: time.Unix(0, nanos).UTC(),
	}, nil
}
