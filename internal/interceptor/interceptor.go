// Package interceptor wraps service and controller calls so that timing,
// arguments, outcome and performance are logged and an audit record is
// emitted, without the wrapped code taking part.
//
// The wrapped call's result and error always pass through untouched; a panic
// is recorded and then re-raised with the same value.
package interceptor

import (
	"context"
	"fmt"
	"time"

	"github.com/mealhelper/tracelog/internal/model"
	"github.com/mealhelper/tracelog/internal/pkg/logger"
	"github.com/mealhelper/tracelog/internal/pkg/metrics"
)

// Layer says where in the call chain an invocation sits.
type Layer string

const (
	LayerService    Layer = "service"
	LayerController Layer = "controller"
	LayerHTTP       Layer = "http"
)

// SlowThresholdMs: anything strictly slower is a performance warning.
const SlowThresholdMs int64 = 1000

// Recorder receives finished audit records. service.AuditService satisfies it.
type Recorder interface {
	Record(ctx context.Context, entry *model.AuditRecord)
}

// Meta describes the wrapped call. Business is optional; without it the call
// is logged but no audit record is produced.
type Meta struct {
	Layer     Layer
	Component string
	Method    string
	Business  model.BusinessType
	Operation model.OperationType
}

func (m Meta) Name() string {
	if m.Component == "" {
		return m.Method
	}
	return m.Component + "." + m.Method
}

type Interceptor struct {
	recorder Recorder
}

func New(recorder Recorder) *Interceptor {
	return &Interceptor{recorder: recorder}
}

// Invoke runs fn under instrumentation. args are only used for logging and
// the audit record; they are serialized before fn runs.
func Invoke[R any](ctx context.Context, ic *Interceptor, meta Meta, args []any, fn func(context.Context) (R, error)) (result R, err error) {
	if meta.Layer == "" {
		meta.Layer = LayerService
	}
	name := meta.Name()
	start := time.Now()
	params := SerializeArgs(args)

	if meta.Layer == LayerController {
		logger.InfoContext(ctx, "Controller request", "method", name, "params", params)
	} else {
		logger.DebugContext(ctx, "Entering method", "method", name)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		elapsed := time.Since(start).Milliseconds()
		panicErr := fmt.Errorf("panic: %v", r)
		logger.ErrorContext(ctx, "Method execution failed",
			"layer", string(meta.Layer), "method", name, "execute_time_ms", elapsed, "error", panicErr.Error())
		ic.record(ctx, meta, params, nil, elapsed, panicErr)
		panic(r)
	}()

	result, err = fn(ctx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		logger.ErrorContext(ctx, "Method execution failed",
			"layer", string(meta.Layer), "method", name, "execute_time_ms", elapsed, "error", err.Error())
		ic.record(ctx, meta, params, nil, elapsed, err)
		return result, err
	}

	if meta.Layer == LayerController {
		logger.InfoContext(ctx, "Controller response", "method", name, "execute_time_ms", elapsed)
	} else {
		logger.DebugContext(ctx, "Exiting method", "method", name, "execute_time_ms", elapsed)
	}
	LogPerformance(ctx, meta.Layer, name, elapsed)
	ic.record(ctx, meta, params, result, elapsed, nil)
	return result, nil
}

func (ic *Interceptor) record(ctx context.Context, meta Meta, params string, result any, elapsedMs int64, callErr error) {
	if ic == nil || ic.recorder == nil || !meta.Business.Valid() {
		return
	}
	// the record is best effort; nothing here may reach the caller
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Audit hand-off panicked", "method", meta.Name(), "panic", fmt.Sprint(r))
		}
	}()

	entry := &model.AuditRecord{
		BusinessType:  meta.Business.Code(),
		OperationType: meta.Operation.Code(),
		MethodName:    meta.Name(),
		RequestParams: params,
		ExecuteTimeMs: elapsedMs,
		Status:        model.StatusSuccess,
	}
	if callErr != nil {
		entry.Status = model.StatusFailed
		entry.ExceptionInfo = callErr.Error()
		if entry.ExceptionInfo == "" {
			entry.ExceptionInfo = fmt.Sprintf("%T", callErr)
		}
	} else if meta.Layer == LayerController {
		entry.ResponseResult = SerializeResult(result)
	}
	ic.recorder.Record(ctx, entry)
}

// ClassifyPerformance maps an elapsed time to the level it is logged at.
func ClassifyPerformance(elapsedMs int64) model.LogLevel {
	if elapsedMs > SlowThresholdMs {
		return model.LevelWarn
	}
	return model.LevelDebug
}

// LogPerformance emits the performance note for name and returns its level.
func LogPerformance(ctx context.Context, layer Layer, name string, elapsedMs int64) model.LogLevel {
	level := ClassifyPerformance(elapsedMs)
	if level == model.LevelWarn {
		metrics.SlowCalls.WithLabelValues(string(layer)).Inc()
		logger.WarnContext(ctx, "Performance warning", "method", name, "execute_time_ms", elapsedMs)
	} else {
		logger.DebugContext(ctx, "Performance log", "method", name, "execute_time_ms", elapsedMs)
	}
	return level
}

// Wrap0 returns fn instrumented, with fn's own signature.
func Wrap0[R any](ic *Interceptor, meta Meta, fn func(context.Context) (R, error)) func(context.Context) (R, error) {
	return func(ctx context.Context) (R, error) {
		return Invoke(ctx, ic, meta, nil, fn)
	}
}

func Wrap1[A, R any](ic *Interceptor, meta Meta, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, a A) (R, error) {
		return Invoke(ctx, ic, meta, []any{a}, func(ctx context.Context) (R, error) {
			return fn(ctx, a)
		})
	}
}

func Wrap2[A, B, R any](ic *Interceptor, meta Meta, fn func(context.Context, A, B) (R, error)) func(context.Context, A, B) (R, error) {
	return func(ctx context.Context, a A, b B) (R, error) {
		return Invoke(ctx, ic, meta, []any{a, b}, func(ctx context.Context) (R, error) {
			return fn(ctx, a, b)
		})
	}
}

// WrapErr1 is Wrap1 for calls that only return an error.
func WrapErr1[A any](ic *Interceptor, meta Meta, fn func(context.Context, A) error) func(context.Context, A) error {
	return func(ctx context.Context, a A) error {
		_, err := Invoke(ctx, ic, meta, []any{a}, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx, a)
		})
		return err
	}
}
