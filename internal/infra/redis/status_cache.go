package redis

import (
	"context"
	"encoding/json"
	"time"

	"finetune-orchestrator/internal/domain/model"
	"finetune-orchestrator/internal/domain/ports/repository"
)

// StatusCache decorates a TaskStatusRepository with a short-TTL read cache
// for the poll endpoint. Writes go straight through and refresh the cached
// row, so a poller never sees a stage older than the last write.
type StatusCache struct {
	inner  repository.TaskStatusRepository
	client RedisClient
	ttl    time.Duration
}

var _ repository.TaskStatusRepository = (*StatusCache)(nil)

func NewStatusCache(inner repository.TaskStatusRepository, client RedisClient, ttl time.Duration) *StatusCache {
	return &StatusCache{inner: inner, client: client, ttl: ttl}
}

func statusKey(configID string) string { return "task_status:" + configID }

func (c *StatusCache) Create(ctx context.Context, taskID, configID string) (*model.TaskStatus, error) {
	st, err := c.inner.Create(ctx, taskID, configID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, st)
	return st, nil
}

func (c *StatusCache) Update(ctx context.Context, taskID string, upd model.TaskStatusUpdate) (*model.TaskStatus, error) {
	st, err := c.inner.Update(ctx, taskID, upd)
	if err != nil {
		return nil, err
	}
	c.store(ctx, st)
	return st, nil
}

func (c *StatusCache) FindLatestByConfig(ctx context.Context, configID string) (*model.TaskStatus, error) {
	if data, err := c.client.Get(ctx, statusKey(configID)); err == nil {
		var st model.TaskStatus
		if err := json.Unmarshal([]byte(data), &st); err == nil {
			return &st, nil
		}
	}
	st, err := c.inner.FindLatestByConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, st)
	return st, nil
}

// store is best effort. A cache write failure must never fail the status
// write that triggered it.
func (c *StatusCache) store(ctx context.Context, st *model.TaskStatus) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, statusKey(st.ConfigID), data, c.ttl)
}
