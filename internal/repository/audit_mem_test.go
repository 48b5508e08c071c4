package repository

import (
	"context"
	"testing"
	"time"

	"github.com/mealhelper/tracelog/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(user string, bt model.BusinessType, status model.Status, at time.Time) *model.AuditRecord {
	r := &model.AuditRecord{
		UserID:       user,
		BusinessType: bt.Code(),
		Status:       status,
		CreatedAt:    at,
	}
	if status == model.StatusFailed {
		r.ExceptionInfo = "boom"
	}
	return r
}

func TestMemoryRepoAggregates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditRepo(100)
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, rec("u", model.BusinessMeal, model.StatusFailed, now)))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, rec("u", model.BusinessRAG, model.StatusSuccess, now)))
	}

	n, err := repo.CountByStatus(ctx, model.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	counts, err := repo.CountByBusinessType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"MEAL": 3, "RAG": 5}, counts)
}

func TestMemoryRepoListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditRepo(100)
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, rec("alice", model.BusinessMeal, model.StatusSuccess, base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, repo.Insert(ctx, rec("bob", model.BusinessMeal, model.StatusSuccess, base)))

	page0, total, err := repo.ListByUser(ctx, "alice", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page0, 2)
	assert.True(t, page0[0].CreatedAt.After(page0[1].CreatedAt))
	assert.Equal(t, base.Add(4*time.Second), page0[0].CreatedAt)

	page2, _, err := repo.ListByUser(ctx, "alice", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, base, page2[0].CreatedAt)

	beyond, _, err := repo.ListByUser(ctx, "alice", 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	huge, total, err := repo.ListByUser(ctx, "alice", 100000000000000000, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Empty(t, huge)
}

func TestMemoryRepoRingEvictsOldest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditRepo(3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, rec("u", model.BusinessSync, model.StatusSuccess, base.Add(time.Duration(i)*time.Second))))
	}

	all, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(5), all[0].ID)
	assert.Equal(t, uint64(3), all[2].ID)
}

func TestMemoryRepoBetween(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditRepo(10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Insert(ctx, rec("u", model.BusinessAuth, model.StatusSuccess, base.Add(time.Duration(i)*time.Hour))))
	}

	got, err := repo.ListBetween(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	byType, err := repo.ListByBusinessType(ctx, "AUTH")
	require.NoError(t, err)
	assert.Len(t, byType, 4)
}
