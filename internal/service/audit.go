package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rotagate/rotagate/internal/model"
)

// Bounds for Auditor.Recent.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

// AuditStore is the persistence the Auditor needs. *config.Store satisfies it.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *model.AuditLogEntry) error
	ListRecentAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, error)
}

// Counter is incremented on every lost audit write. A prometheus.Counter
// satisfies it.
type Counter interface {
	Inc()
}

// Event describes one sensitive transition. The action is taken from Meta.
type Event struct {
	Actor      string
	TargetType string
	TargetID   string
	IP         string
	Meta       model.AuditMeta
}

// Auditor appends audit entries on a best-effort basis. A failed write never
// fails the operation that triggered it; instead it is logged, counted and
// puts the Auditor into degraded mode for the life of the process.
type Auditor struct {
	store    AuditStore
	logger   *slog.Logger
	failures Counter

	degraded atomic.Bool
	lost     atomic.Int64
}

// NewAuditor creates an Auditor. failures may be nil.
func NewAuditor(store AuditStore, logger *slog.Logger, failures Counter) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{store: store, logger: logger, failures: failures}
}

// Record appends one entry for ev.
func (a *Auditor) Record(ctx context.Context, ev Event) {
	if ev.Meta == nil {
		a.fail(ev, errors.New("audit event without meta"))
		return
	}

	meta, err := model.EncodeMeta(ev.Meta)
	if err != nil {
		a.fail(ev, err)
		return
	}

	entry := &model.AuditLogEntry{
		Actor:      ev.Actor,
		Action:     ev.Meta.Action(),
		TargetType: optional(ev.TargetType),
		TargetID:   optional(ev.TargetID),
		IP:         optional(ev.IP),
		Meta:       meta,
	}
	if err := a.store.AppendAudit(ctx, entry); err != nil {
		a.fail(ev, err)
	}
}

func (a *Auditor) fail(ev Event, err error) {
	a.degraded.Store(true)
	a.lost.Add(1)
	if a.failures != nil {
		a.failures.Inc()
	}

	var action model.AuditAction
	if ev.Meta != nil {
		action = ev.Meta.Action()
	}
	a.logger.Error("audit write failed",
		"degraded", true,
		"action", action,
		"actor", ev.Actor,
		"target_id", ev.TargetID,
		"error", err,
	)
}

// Recent returns up to limit entries, newest first. Non-positive limits mean
// DefaultAuditLimit; larger values are capped at MaxAuditLimit.
func (a *Auditor) Recent(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	entries, err := a.store.ListRecentAudit(ctx, ClampAuditLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	return entries, nil
}

// ClampAuditLimit normalizes a requested audit page size.
func ClampAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultAuditLimit
	case limit > MaxAuditLimit:
		return MaxAuditLimit
	default:
		return limit
	}
}

// Degraded reports whether any audit write has been lost.
func (a *Auditor) Degraded() bool {
	return a.degraded.Load()
}

// Lost returns the number of audit writes lost since startup.
func (a *Auditor) Lost() int64 {
	return a.lost.Load()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
