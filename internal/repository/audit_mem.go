package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mealhelper/tracelog/internal/model"
)

// MemoryAuditRepo keeps the newest maxSize records in a ring. It backs the
// service when no database is configured, and the tests.
type MemoryAuditRepo struct {
	mu        sync.RWMutex
	maxSize   int
	records   []*model.AuditRecord
	nextIndex int
	nextID    uint64
}

func NewMemoryAuditRepo(maxSize int) *MemoryAuditRepo {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryAuditRepo{
		maxSize: maxSize,
		records: make([]*model.AuditRecord, 0, maxSize),
	}
}

func (r *MemoryAuditRepo) Name() string { return "memory" }

func (r *MemoryAuditRepo) Insert(_ context.Context, entry *model.AuditRecord) error {
	if entry == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry.ID = r.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if len(r.records) < r.maxSize {
		r.records = append(r.records, entry)
		return nil
	}
	r.records[r.nextIndex] = entry
	r.nextIndex = (r.nextIndex + 1) % r.maxSize
	return nil
}

func (r *MemoryAuditRepo) ListByUser(_ context.Context, userID string, page, size int) ([]*model.AuditRecord, int64, error) {
	matched := r.filter(func(e *model.AuditRecord) bool { return e.UserID == userID })
	total := int64(len(matched))

	if page < 0 || size <= 0 {
		return []*model.AuditRecord{}, total, nil
	}
	if page > (len(matched)-1)/size {
		return []*model.AuditRecord{}, total, nil
	}
	start := page * size
	if start >= len(matched) {
		return []*model.AuditRecord{}, total, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *MemoryAuditRepo) ListByBusinessType(_ context.Context, businessType string) ([]*model.AuditRecord, error) {
	return r.filter(func(e *model.AuditRecord) bool { return e.BusinessType == businessType }), nil
}

func (r *MemoryAuditRepo) ListBetween(_ context.Context, from, to time.Time) ([]*model.AuditRecord, error) {
	return r.filter(func(e *model.AuditRecord) bool {
		return !e.CreatedAt.Before(from) && !e.CreatedAt.After(to)
	}), nil
}

func (r *MemoryAuditRepo) Recent(_ context.Context, limit int) ([]*model.AuditRecord, error) {
	all := r.filter(func(*model.AuditRecord) bool { return true })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryAuditRepo) CountByStatus(_ context.Context, status model.Status) (int64, error) {
	return int64(len(r.filter(func(e *model.AuditRecord) bool { return e.Status == status }))), nil
}

func (r *MemoryAuditRepo) CountByBusinessType(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64)
	for _, e := range r.records {
		out[e.BusinessType]++
	}
	return out, nil
}

// filter returns matches newest first.
func (r *MemoryAuditRepo) filter(keep func(*model.AuditRecord) bool) []*model.AuditRecord {
	r.mu.RLock()
	out := make([]*model.AuditRecord, 0)
	for _, e := range r.records {
		if keep(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
