package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/model"
)

// failingAuditStore loses every write but still serves reads.
type failingAuditStore struct {
	*config.Store
}

func (failingAuditStore) AppendAudit(context.Context, *model.AuditLogEntry) error {
	return errors.New("disk full")
}

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func TestAuditorRecordAndRecent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.audit.Record(ctx, Event{
		Actor:      "admin",
		TargetType: model.TargetAPIKey,
		TargetID:   "1",
		IP:         "10.0.0.1",
		Meta:       model.CreateKeyMeta{Label: "ci", KeyLast4: "abcd"},
	})
	env.audit.Record(ctx, Event{
		Actor: "admin",
		Meta:  model.RevokeKeyMeta{Reason: model.RevocationManual},
	})

	entries, err := env.audit.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != model.ActionRevokeKey {
		t.Errorf("newest first: got %s", entries[0].Action)
	}
	if entries[0].TargetID != nil {
		t.Errorf("empty target id should be stored as NULL")
	}
	if entries[1].IP == nil || *entries[1].IP != "10.0.0.1" {
		t.Errorf("ip not recorded: %+v", entries[1].IP)
	}

	meta, err := entries[1].DecodeMeta()
	if err != nil {
		t.Fatalf("DecodeMeta: %v", err)
	}
	if m := meta.(*model.CreateKeyMeta); m.Label != "ci" {
		t.Errorf("meta label: got %q", m.Label)
	}
	if env.audit.Degraded() {
		t.Error("auditor should not be degraded")
	}
}

func TestAuditorFailureIsDegradedNotFatal(t *testing.T) {
	store, err := config.NewStore("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	counter := &countingCounter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := NewAuditor(failingAuditStore{store}, logger, counter)

	audit.Record(context.Background(), Event{Actor: "admin", Meta: model.RevokeKeyMeta{Reason: "x"}})

	if !audit.Degraded() {
		t.Error("expected degraded after failed write")
	}
	if audit.Lost() != 1 {
		t.Errorf("lost: got %d, want 1", audit.Lost())
	}
	if counter.n != 1 {
		t.Errorf("failure counter: got %d, want 1", counter.n)
	}
}

func TestAuditorRejectsEventWithoutMeta(t *testing.T) {
	env := newTestEnv(t)
	env.audit.Record(context.Background(), Event{Actor: "admin"})
	if !env.audit.Degraded() {
		t.Error("an event without meta is a lost write")
	}
}

func TestClampAuditLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, DefaultAuditLimit},
		{0, DefaultAuditLimit},
		{1, 1},
		{50, 50},
		{500, 500},
		{501, MaxAuditLimit},
		{100000, MaxAuditLimit},
	}
	for _, tt := range tests {
		if got := ClampAuditLimit(tt.in); got != tt.want {
			t.Errorf("ClampAuditLimit(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAuditorRecentClamps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.audit.Record(ctx, Event{Actor: "admin", Meta: model.RevokeKeyMeta{Reason: "x"}})
	}

	entries, err := env.audit.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}
