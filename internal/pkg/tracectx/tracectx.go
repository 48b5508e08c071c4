// Package tracectx binds a per-request trace ID and optional user ID to a
// context.Context.
//
// Every request owns its own slot: Begin allocates it and stores it in the
// returned context, so concurrent requests never share state and no global
// lock is involved. Scope.End clears the slot; after that, lookups through any
// context derived from the request report the values as absent.
package tracectx

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type ctxKey struct{}

type slot struct {
	mu      sync.RWMutex
	traceID string
	userID  string
}

// Scope is the handle returned by Begin. End must be called exactly once when
// the request leaves the server; extra calls are no-ops.
type Scope struct {
	slot    *slot
	traceID string
	once    sync.Once
	ended   chan struct{}
}

// Fields is a detached copy of the bound values, safe to keep after End.
type Fields struct {
	TraceID string `json:"trace_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// NewTraceID returns a 32 char hex token.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Begin generates a fresh trace ID and binds it, together with userID (empty
// means absent), to a new context derived from ctx.
func Begin(ctx context.Context, userID string) (context.Context, *Scope) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &slot{
		traceID: NewTraceID(),
		userID:  strings.TrimSpace(userID),
	}
	scope := &Scope{
		slot:    s,
		traceID: s.traceID,
		ended:   make(chan struct{}),
	}
	return context.WithValue(ctx, ctxKey{}, s), scope
}

// TraceID is the ID generated by Begin. It stays readable on the handle after End.
func (s *Scope) TraceID() string {
	return s.traceID
}

// End clears the bound values.
func (s *Scope) End() {
	s.once.Do(func() {
		s.slot.mu.Lock()
		s.slot.traceID = ""
		s.slot.userID = ""
		s.slot.mu.Unlock()
		close(s.ended)
	})
}

// Ended reports whether End has run.
func (s *Scope) Ended() bool {
	select {
	case <-s.ended:
		return true
	default:
		return false
	}
}

func lookup(ctx context.Context) *slot {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(ctxKey{}).(*slot)
	return s
}

// TraceID returns the current trace ID, or ("", false) when no trace is bound.
func TraceID(ctx context.Context) (string, bool) {
	s := lookup(ctx)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traceID, s.traceID != ""
}

// UserID returns the user bound by Begin, or ("", false).
func UserID(ctx context.Context) (string, bool) {
	s := lookup(ctx)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// Snapshot copies the bound values out of ctx.
func Snapshot(ctx context.Context) Fields {
	s := lookup(ctx)
	if s == nil {
		return Fields{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Fields{TraceID: s.traceID, UserID: s.userID}
}
