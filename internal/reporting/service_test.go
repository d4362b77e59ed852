package reporting

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"callbridge/internal/calls"
)

func session(id, caller, callee string, status calls.Status, created time.Time, duration int64, answered bool) calls.Session {
	s := calls.Session{
		CallID:    id,
		Caller:    calls.Party{ID: caller},
		Callee:    calls.Party{ID: callee},
		Status:    status,
		Duration:  duration,
		CreatedAt: created,
	}
	if answered {
		start := created.Add(5 * time.Second)
		s.StartTime = &start
	}
	return s
}

func TestCallsSummary_PartyIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []calls.Session{
		session("a", "c1", "m1", calls.StatusEnded, now, 30, true),
		session("b", "c2", "m1", calls.StatusEnded, now, 50, true),
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Role: "caller", PartyID: "c1",
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalDurationSeconds != 30 {
		t.Fatalf("expected only c1's call, got %+v", out)
	}

	callee, _ := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Role: "callee", PartyID: "m1",
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if callee.TotalCalls != 2 {
		t.Fatalf("expected both calls for m1, got %d", callee.TotalCalls)
	}
}

func TestCallsSummary_Aggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []calls.Session{
		session("a", "c1", "m1", calls.StatusEnded, now, 30, true),
		session("b", "c1", "m1", calls.StatusEnded, now, 91, true),
		session("c", "c1", "m1", calls.StatusRejected, now, 0, false),
		session("d", "c1", "m1", calls.StatusMissed, now, 0, false),
		session("e", "c1", "m1", calls.StatusAccepted, now, 0, true),
		session("f", "c1", "m1", calls.StatusEnded, now.Add(-48*time.Hour), 500, true),
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Role: "caller", PartyID: "c1",
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 5 || out.EndedCalls != 2 || out.RejectedCalls != 1 || out.MissedCalls != 1 || out.OpenCalls != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.TotalDurationSeconds != 121 || out.AverageDurationSeconds != 60 {
		t.Fatalf("unexpected durations: %+v", out)
	}
	if out.AnswerRate != 0.5 {
		t.Fatalf("expected answer rate 0.5, got %v", out.AnswerRate)
	}
}

func TestCallsSummary_Validation(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Now()

	cases := []CallsSummaryRequest{
		{Role: "caller"},
		{Role: "admin", PartyID: "x"},
		{Role: "caller", PartyID: "x", Range: TimeRange{From: now, To: now.Add(-time.Minute)}},
	}
	for i, req := range cases {
		if _, err := svc.CallsSummary(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestCallsSummary_DefaultWindow(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.Calls = []calls.Session{
		session("recent", "c1", "m1", calls.StatusMissed, now.Add(-24*time.Hour), 0, false),
		session("old", "c1", "m1", calls.StatusMissed, now.Add(-40*24*time.Hour), 0, false),
	}
	svc := NewService(repo)
	svc.clock = func() time.Time { return now }

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Role: "caller", PartyID: "c1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || !out.Range.From.Equal(now.Add(-DefaultWindow)) {
		t.Fatalf("expected the 30 day window, got %+v", out)
	}
}

func TestCallsRepo_PagesThroughHistory(t *testing.T) {
	store := calls.NewMemoryRepo()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("call-%03d", i)
		s := session(id, "c1", "m1", calls.StatusEnded, base.Add(time.Duration(i)*time.Minute), 10, true)
		s.ChannelName = calls.ChannelFor(id)
		if err := store.Create(context.Background(), s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	repo := NewCallsRepo(store)
	from := base.Add(20 * time.Minute)
	to := base.Add(230 * time.Minute)
	got, err := repo.ListCalls(context.Background(), calls.RoleCaller, "c1", from, to)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 210 {
		t.Fatalf("expected 210 calls in range, got %d", len(got))
	}
	for _, s := range got {
		if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			t.Fatalf("call %s outside range", s.CallID)
		}
	}
}
