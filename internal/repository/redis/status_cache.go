package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cadbridge/internal/domain/entity"

	"github.com/redis/go-redis/v9"
)

const snapshotTTL = time.Hour

// StatusCache keeps the user-visible job snapshot in Redis so status reads
// don't hit Postgres. It is written on every committed transition and is
// purely an accelerator: a miss falls back to the row.
type StatusCache struct {
	Client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{Client: client}
}

func (c *StatusCache) SetSnapshot(ctx context.Context, jobID string, snap entity.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, "job_status:"+jobID, data, snapshotTTL).Err()
}

func (c *StatusCache) GetSnapshot(ctx context.Context, jobID string) (*entity.Snapshot, error) {
	data, err := c.Client.Get(ctx, "job_status:"+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	snap := &entity.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
