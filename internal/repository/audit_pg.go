package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mealhelper/tracelog/internal/model"
	"gorm.io/gorm"
)

// PostgresAuditRepo stores audit records in the system_logs table.
type PostgresAuditRepo struct {
	db *gorm.DB
}

func NewPostgresAuditRepo(db *gorm.DB) (*PostgresAuditRepo, error) {
	repo := &PostgresAuditRepo{db: db}
	if err := repo.ensureSchema(); err != nil {
		return nil, fmt.Errorf("migrate system_logs: %w", err)
	}
	return repo, nil
}

func (r *PostgresAuditRepo) Name() string { return "postgres" }

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry *model.AuditRecord) error {
	if entry == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *PostgresAuditRepo) ListByUser(ctx context.Context, userID string, page, size int) ([]*model.AuditRecord, int64, error) {
	var total int64
	if err := r.records(ctx).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := page * size
	if page < 0 || size <= 0 || offset/size != page {
		return []*model.AuditRecord{}, total, nil
	}

	records := make([]*model.AuditRecord, 0, size)
	err := r.records(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(size).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *PostgresAuditRepo) ListByBusinessType(ctx context.Context, businessType string) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.records(ctx).
		Where("business_type = ?", businessType).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	return records, err
}

func (r *PostgresAuditRepo) ListBetween(ctx context.Context, from, to time.Time) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.records(ctx).
		Where("created_at BETWEEN ? AND ?", from, to).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	return records, err
}

func (r *PostgresAuditRepo) Recent(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.records(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *PostgresAuditRepo) CountByStatus(ctx context.Context, status model.Status) (int64, error) {
	var n int64
	err := r.records(ctx).Where("status = ?", status).Count(&n).Error
	return n, err
}

func (r *PostgresAuditRepo) CountByBusinessType(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		BusinessType string
		Count        int64
	}
	err := r.records(ctx).
		Select("business_type, COUNT(*) AS count").
		Group("business_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.BusinessType] = row.Count
	}
	return out, nil
}

func (r *PostgresAuditRepo) records(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.AuditRecord{})
}

func (r *PostgresAuditRepo) ensureSchema() error {
	return r.db.AutoMigrate(&model.AuditRecord{})
}
