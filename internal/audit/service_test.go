package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_AppendRequiresCallAndStatus(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeTransition, ToStatus: "ringing"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{CallID: "c", Type: EventTypeTransition}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestService_LogTransitionAppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if err := svc.LogTransition(ctx, "call-1", "", "system", "pending", "ringing", "ring", nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogTransition(ctx, "call-1", "m1", "callee", "ringing", "rejected", "reject", map[string]string{"rejectReason": "busy"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogTransition(ctx, "call-2", "c1", "caller", "", "pending", "create", nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	trail, err := svc.Trail(ctx, "call-1")
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 events for call-1, got %d", len(trail))
	}
	if trail[0].ToStatus != "ringing" || trail[1].ToStatus != "rejected" {
		t.Fatalf("unexpected order: %+v", trail)
	}
	if trail[0].IPAddress != "203.0.113.7" {
		t.Fatalf("expected client ip captured, got %q", trail[0].IPAddress)
	}
	if trail[1].Metadata != `{"rejectReason":"busy"}` {
		t.Fatalf("unexpected metadata %q", trail[1].Metadata)
	}
	if trail[0].ID == "" || !trail[0].CreatedAt.Equal(now) || trail[0].Type != EventTypeTransition {
		t.Fatalf("expected id, timestamp and type populated: %+v", trail[0])
	}
}
