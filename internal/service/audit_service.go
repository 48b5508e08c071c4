package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mealhelper/tracelog/internal/model"
	"github.com/mealhelper/tracelog/internal/pkg/apperrors"
	"github.com/mealhelper/tracelog/internal/pkg/clientmeta"
	"github.com/mealhelper/tracelog/internal/pkg/logger"
	"github.com/mealhelper/tracelog/internal/pkg/metrics"
	"github.com/mealhelper/tracelog/internal/pkg/tracectx"
	"github.com/mealhelper/tracelog/internal/repository"
)

// AuditSink is anything an audit record can be written to.
type AuditSink interface {
	Name() string
	Insert(ctx context.Context, entry *model.AuditRecord) error
}

// AuditRepo is the system of record; reads are served from it.
type AuditRepo interface {
	AuditSink
	ListByUser(ctx context.Context, userID string, page, size int) ([]*model.AuditRecord, int64, error)
	ListByBusinessType(ctx context.Context, businessType string) ([]*model.AuditRecord, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]*model.AuditRecord, error)
	CountByStatus(ctx context.Context, status model.Status) (int64, error)
	CountByBusinessType(ctx context.Context) (map[string]int64, error)
}

// RecentLister serves the newest records, newest first.
type RecentLister interface {
	Recent(ctx context.Context, limit int) ([]*model.AuditRecord, error)
}

// OverflowPolicy decides what Record does when the queue is full.
type OverflowPolicy string

const (
	// DropNewest discards the record being submitted.
	DropNewest OverflowPolicy = "drop_newest"
	// DropOldest evicts the oldest queued record to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// CallerRuns writes the record synchronously on the calling goroutine.
	CallerRuns OverflowPolicy = "caller_runs"
)

func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(raw); p {
	case DropNewest, DropOldest, CallerRuns:
		return p, nil
	case "":
		return DropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", raw)
	}
}

type AuditOptions struct {
	Workers   int
	QueueSize int
	Overflow  OverflowPolicy
}

// AuditStats exposes what happened to submitted records.
type AuditStats struct {
	Persisted      int64 `json:"persisted"`
	Dropped        int64 `json:"dropped"`
	Malformed      int64 `json:"malformed"`
	PersistFailure int64 `json:"persist_failures"`
}

// Statistics is the payload of the statistics query.
type Statistics struct {
	ErrorCount        int64            `json:"errorCount"`
	BusinessTypeStats map[string]int64 `json:"businessTypeStats"`
}

// AuditService accepts finished audit records and writes them off the
// caller's path through a bounded queue drained by a small worker pool.
type AuditService struct {
	logChan  chan *model.AuditRecord
	repo     AuditRepo
	mirrors  []AuditSink
	recent   RecentLister
	overflow OverflowPolicy

	mu     sync.RWMutex // guards closed against sends on logChan
	closed bool
	wg     sync.WaitGroup

	persisted      atomic.Int64
	dropped        atomic.Int64
	malformed      atomic.Int64
	persistFailure atomic.Int64
}

// NewAuditService starts the workers. A nil repo falls back to an in-process
// ring of recent records.
func NewAuditService(opts AuditOptions, repo AuditRepo, mirrors ...AuditSink) *AuditService {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 200
	}
	if opts.Overflow == "" {
		opts.Overflow = DropOldest
	}
	if repo == nil {
		repo = repository.NewMemoryAuditRepo(0)
	}

	svc := &AuditService{
		logChan:  make(chan *model.AuditRecord, opts.QueueSize),
		repo:     repo,
		mirrors:  mirrors,
		overflow: opts.Overflow,
	}
	if lister, ok := repo.(RecentLister); ok {
		svc.recent = lister
	}

	for i := 0; i < opts.Workers; i++ {
		svc.wg.Add(1)
		go svc.processLogs()
	}
	return svc
}

// WithRecentSource serves Recent from a faster mirror (e.g. Redis).
func (s *AuditService) WithRecentSource(src RecentLister) *AuditService {
	if src != nil {
		s.recent = src
	}
	return s
}

// Record stamps the draft from the request context and hands it off. It never
// blocks on storage (unless the CallerRuns policy kicks in) and never fails.
func (s *AuditService) Record(ctx context.Context, entry *model.AuditRecord) {
	if entry == nil {
		return
	}
	s.stamp(ctx, entry)
	if err := entry.Validate(); err != nil {
		s.malformed.Add(1)
		metrics.AuditDropped.WithLabelValues("malformed").Inc()
		logger.WarnContext(ctx, "Malformed audit record dropped", "method", entry.MethodName, "error", err.Error())
		return
	}
	s.enqueue(ctx, entry)
}

// LogBusinessOperation records an explicit business log entry.
func (s *AuditService) LogBusinessOperation(ctx context.Context, userID string, business model.BusinessType,
	operation model.OperationType, methodName, requestParams, responseResult string,
	executeTimeMs int64, status model.Status) {
	logger.InfoContext(ctx, "Business log",
		"business", business.Description(),
		"operation", operation.Description(),
		"method", methodName,
	)
	s.Record(ctx, &model.AuditRecord{
		UserID:         userID,
		BusinessType:   business.Code(),
		OperationType:  operation.Code(),
		MethodName:     methodName,
		RequestParams:  requestParams,
		ResponseResult: responseResult,
		ExecuteTimeMs:  executeTimeMs,
		Status:         status,
	})
}

// LogException records a failure outside any intercepted call.
func (s *AuditService) LogException(ctx context.Context, userID, methodName string, err error) {
	if err == nil {
		return
	}
	logger.LogError(ctx, err, "Exception log", "user", userID, "method", methodName)
	s.Record(ctx, &model.AuditRecord{
		UserID:        userID,
		BusinessType:  model.BusinessSystem.Code(),
		MethodName:    methodName,
		ExceptionInfo: exceptionInfo(err),
		Status:        model.StatusFailed,
	})
}

func (s *AuditService) stamp(ctx context.Context, e *model.AuditRecord) {
	fields := tracectx.Snapshot(ctx)
	if e.TraceID == "" {
		e.TraceID = fields.TraceID
	}
	if e.UserID == "" {
		e.UserID = fields.UserID
	}
	if e.IPAddress == "" || e.UserAgent == "" {
		meta, ok := clientmeta.FromContext(ctx)
		if !ok {
			meta = clientmeta.Meta{IP: clientmeta.Unknown, UserAgent: clientmeta.Unknown}
		}
		if e.IPAddress == "" {
			e.IPAddress = meta.IP
		}
		if e.UserAgent == "" {
			e.UserAgent = meta.UserAgent
		}
	}
	if e.ModuleName == "" {
		e.ModuleName = model.BusinessType(e.BusinessType).Description()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ExecuteTimeMs < 0 {
		e.ExecuteTimeMs = 0
	}
}

func (s *AuditService) enqueue(ctx context.Context, e *model.AuditRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(ctx, e, "closed")
		return
	}

	select {
	case s.logChan <- e:
		return
	default:
	}

	switch s.overflow {
	case CallerRuns:
		s.persist(context.WithoutCancel(ctx), e)
	case DropOldest:
		// a few rounds are enough; workers are draining concurrently
		for i := 0; i < 3; i++ {
			select {
			case old := <-s.logChan:
				s.drop(ctx, old, "queue_full")
			default:
			}
			select {
			case s.logChan <- e:
				return
			default:
			}
		}
		s.drop(ctx, e, "queue_full")
	default:
		s.drop(ctx, e, "queue_full")
	}
}

func (s *AuditService) drop(ctx context.Context, e *model.AuditRecord, reason string) {
	s.dropped.Add(1)
	metrics.AuditDropped.WithLabelValues(reason).Inc()
	// 缓冲区满，丢弃日志以保护主流程
	logger.WarnContext(ctx, "Audit record dropped", "reason", reason, "method", e.MethodName)
}

func (s *AuditService) processLogs() {
	defer s.wg.Done()
	for entry := range s.logChan {
		s.persist(context.Background(), entry)
	}
}

func (s *AuditService) persist(ctx context.Context, entry *model.AuditRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.persistFailure.Add(1)
			logger.Error("Audit persistence panicked", "panic", fmt.Sprint(r))
		}
	}()

	if err := s.repo.Insert(ctx, entry); err != nil {
		s.persistFailure.Add(1)
		metrics.AuditPersistFailures.WithLabelValues(s.repo.Name()).Inc()
		logger.Error("Failed to save audit record", "sink", s.repo.Name(), "trace_id", entry.TraceID, "error", err.Error())
	} else {
		s.persisted.Add(1)
		metrics.AuditRecords.WithLabelValues(string(entry.Status)).Inc()
		logger.Debug("Audit record saved", "id", entry.ID, "trace_id", entry.TraceID)
	}

	for _, m := range s.mirrors {
		if err := m.Insert(ctx, entry); err != nil {
			metrics.AuditPersistFailures.WithLabelValues(m.Name()).Inc()
			logger.Error("Failed to mirror audit record", "sink", m.Name(), "error", err.Error())
		}
	}
}

// Stats is a point-in-time view of the delivery counters.
func (s *AuditService) Stats() AuditStats {
	return AuditStats{
		Persisted:      s.persisted.Load(),
		Dropped:        s.dropped.Load(),
		Malformed:      s.malformed.Load(),
		PersistFailure: s.persistFailure.Load(),
	}
}

// Close stops intake, drains queued records and closes closable mirrors.
// Records submitted afterwards are dropped.
func (s *AuditService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.logChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("audit queue not drained: %w", ctx.Err())
	}

	for _, m := range s.mirrors {
		if c, ok := m.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	}
	return err
}

// ---- queries ----

// maxPageOffset bounds page*size well below int overflow.
const maxPageOffset = math.MaxInt32

func (s *AuditService) ListByUser(ctx context.Context, userID string, page, size int) (*model.Page[*model.AuditRecord], error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 10
	}
	if size > 100 {
		size = 100
	}
	if page > maxPageOffset/size {
		return nil, apperrors.NewInvalidRequest("page out of range")
	}
	items, total, err := s.repo.ListByUser(ctx, userID, page, size)
	if err != nil {
		return nil, err
	}
	return &model.Page[*model.AuditRecord]{Items: items, Total: total, Page: page, Size: size}, nil
}

func (s *AuditService) ListByBusinessType(ctx context.Context, business model.BusinessType) ([]*model.AuditRecord, error) {
	return s.repo.ListByBusinessType(ctx, business.Code())
}

func (s *AuditService) ListBetween(ctx context.Context, from, to time.Time) ([]*model.AuditRecord, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid time range: to before from")
	}
	return s.repo.ListBetween(ctx, from, to)
}

func (s *AuditService) ErrorCount(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, model.StatusFailed)
}

func (s *AuditService) BusinessTypeCounts(ctx context.Context) (map[string]int64, error) {
	return s.repo.CountByBusinessType(ctx)
}

func (s *AuditService) Statistics(ctx context.Context) (*Statistics, error) {
	errCount, err := s.ErrorCount(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.BusinessTypeCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &Statistics{ErrorCount: errCount, BusinessTypeStats: counts}, nil
}

// Recent prefers the configured fast source and falls back to the repo.
func (s *AuditService) Recent(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if s.recent != nil {
		records, err := s.recent.Recent(ctx, limit)
		if err == nil {
			return records, nil
		}
		logger.WarnContext(ctx, "Recent audit source failed, falling back", "error", err.Error())
	}
	if lister, ok := s.repo.(RecentLister); ok {
		return lister.Recent(ctx, limit)
	}
	return nil, nil
}

func exceptionInfo(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
