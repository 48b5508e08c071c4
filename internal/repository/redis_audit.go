package repository

import (
	"context"
	"encoding/json"

	"github.com/mealhelper/tracelog/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisAuditRepo mirrors the newest records into a capped Redis list and keeps
// running per-business-type counters. It is a write mirror plus a fast
// "recent" view, not the system of record.
type RedisAuditRepo struct {
	client  redis.Cmdable
	listKey string
	listMax int
}

func NewRedisAuditRepo(client redis.Cmdable, listKey string, listMax int) *RedisAuditRepo {
	if listKey == "" {
		listKey = "audit_logs"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisAuditRepo{
		client:  client,
		listKey: listKey,
		listMax: listMax,
	}
}

func (r *RedisAuditRepo) Name() string { return "redis" }

func (r *RedisAuditRepo) countersKey() string { return r.listKey + ":business_counts" }

func (r *RedisAuditRepo) Insert(ctx context.Context, entry *model.AuditRecord) error {
	if entry == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, int64(r.listMax-1))
	pipe.HIncrBy(ctx, r.countersKey(), entry.BusinessType, 1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAuditRepo) Recent(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 || limit > r.listMax {
		limit = 100
	}
	items, err := r.client.LRange(ctx, r.listKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	results := make([]*model.AuditRecord, 0, len(items))
	for _, raw := range items {
		var entry model.AuditRecord
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		results = append(results, &entry)
	}
	return results, nil
}
