package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-backed PendingQueue for operators running more than
// one Orchestrator process against a shared WorkerPool. Task order is kept
// in a Redis list of task IDs; task bodies live in a companion hash. There
// is no Lua scripting: capability matching is a client-side scan over the
// list, same shape as MemoryQueue's scan, made safe under concurrent
// poppers by removing the matched ID with LREM before anyone else can claim
// it (a list entry appears exactly once, so LREM count=1 always removes the
// specific element this caller just read, not some other popper's catch).
type RedisQueue struct {
	rdb     *redis.Client
	listKey string
	bodyKey string
}

// NewRedisQueue builds a RedisQueue namespaced under keyPrefix (e.g.
// "agentco:pool:default").
func NewRedisQueue(rdb *redis.Client, keyPrefix string) *RedisQueue {
	return &RedisQueue{
		rdb:     rdb,
		listKey: keyPrefix + ":pending",
		bodyKey: keyPrefix + ":tasks",
	}
}

func (q *RedisQueue) Push(ctx context.Context, task PendingTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal pending task: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.bodyKey, task.TaskID, body)
	pipe.RPush(ctx, q.listKey, task.TaskID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("push pending task: %w", err)
	}
	return nil
}

func (q *RedisQueue) PopMatching(ctx context.Context, workerCapabilities []string, allowFallback bool) (PendingTask, bool, error) {
	ids, err := q.rdb.LRange(ctx, q.listKey, 0, -1).Result()
	if err != nil {
		return PendingTask{}, false, fmt.Errorf("scan pending queue: %w", err)
	}
	if len(ids) == 0 {
		return PendingTask{}, false, nil
	}

	matchID := ""
	for _, id := range ids {
		task, ok, err := q.loadTask(ctx, id)
		if err != nil {
			return PendingTask{}, false, err
		}
		if !ok {
			continue
		}
		if satisfies(workerCapabilities, task.RequiredCapabilities) {
			matchID = id
			break
		}
	}
	if matchID == "" && allowFallback {
		matchID = ids[0]
	}
	if matchID == "" {
		return PendingTask{}, false, nil
	}

	task, ok, err := q.loadTask(ctx, matchID)
	if err != nil || !ok {
		return PendingTask{}, false, err
	}

	pipe := q.rdb.TxPipeline()
	removed := pipe.LRem(ctx, q.listKey, 1, matchID)
	pipe.HDel(ctx, q.bodyKey, matchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return PendingTask{}, false, fmt.Errorf("pop pending task: %w", err)
	}
	if removed.Val() == 0 {
		// Another popper removed this ID first; this caller gets nothing.
		return PendingTask{}, false, nil
	}
	return task, true, nil
}

func (q *RedisQueue) loadTask(ctx context.Context, id string) (PendingTask, bool, error) {
	body, err := q.rdb.HGet(ctx, q.bodyKey, id).Bytes()
	if err == redis.Nil {
		return PendingTask{}, false, nil
	}
	if err != nil {
		return PendingTask{}, false, fmt.Errorf("load pending task %s: %w", id, err)
	}
	var task PendingTask
	if err := json.Unmarshal(body, &task); err != nil {
		return PendingTask{}, false, fmt.Errorf("unmarshal pending task %s: %w", id, err)
	}
	return task, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.listKey).Result()
	if err != nil {
		return 0, fmt.Errorf("len pending queue: %w", err)
	}
	return int(n), nil
}
