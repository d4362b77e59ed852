package credentials

import (
	"errors"
	"testing"
	"time"

	"callbridge/internal/config"
)

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer(config.MediaConfig{AppID: "app-1", AppCertificate: "cert-secret"},
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return iss
}

func TestNewIssuer_RequiresIdentity(t *testing.T) {
	if _, err := NewIssuer(config.MediaConfig{AppID: "app"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewIssuer(config.MediaConfig{AppCertificate: "cert"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestMediaToken_RoundTripExpiry(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	iss := newTestIssuer(t, now)
	ttl := 600 * time.Second

	tok, err := iss.IssueMedia("call_abc", 12345, RoleSubscriber, ttl)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := iss.VerifyMedia(tok, now)
	if err != nil {
		t.Fatalf("verify at issue time: %v", err)
	}
	if claims.Channel != "call_abc" || claims.UID != 12345 || claims.Role != RoleSubscriber || claims.AppID != "app-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(ttl)) {
		t.Fatalf("expected expiry %v, got %v", now.Add(ttl), claims.ExpiresAt.Time)
	}

	if _, err := iss.VerifyMedia(tok, now.Add(ttl+time.Second)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestMessagingToken_RoundTripExpiry(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	iss := newTestIssuer(t, now)

	tok, err := iss.IssueMessaging("user-7", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.VerifyMessaging(tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-7" {
		t.Fatalf("unexpected user %q", claims.UserID)
	}
	if _, err := iss.VerifyMessaging(tok, now.Add(24*time.Hour+time.Second)); err == nil {
		t.Fatalf("expected default 24h ttl to expire")
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, now)

	media, _ := iss.IssueMedia("call_x", 1, RolePublisher, time.Minute)
	msg, _ := iss.IssueMessaging("u", time.Minute)

	if _, err := iss.VerifyMessaging(media, now); err == nil {
		t.Fatalf("media token must not verify as messaging")
	}
	if _, err := iss.VerifyMedia(msg, now); err == nil {
		t.Fatalf("messaging token must not verify as media")
	}
}

func TestVerify_RejectsForeignSecret(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, now)
	other, _ := NewIssuer(config.MediaConfig{AppID: "app-1", AppCertificate: "other"},
		WithClock(func() time.Time { return now }))

	tok, _ := other.IssueMedia("call_x", 1, RolePublisher, time.Minute)
	if _, err := iss.VerifyMedia(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}
}

func TestIssueMediaForAccount(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, now)

	tok, err := iss.IssueMediaForAccount("call_x", "alice@example.com", RolePublisher, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.VerifyMedia(tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Account != "alice@example.com" || claims.UID != 0 {
		t.Fatalf("unexpected addressing: %+v", claims)
	}
}

func TestRoleBoundary(t *testing.T) {
	if r, err := ParseRole(""); err != nil || r != RolePublisher {
		t.Fatalf("empty role should default to publisher, got %q %v", r, err)
	}
	if _, err := ParseRole("admin"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	iss := newTestIssuer(t, time.Now())
	if _, err := iss.IssueMedia("call_x", 1, Role("admin"), time.Minute); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := iss.IssueMedia("", 1, RolePublisher, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestForParty(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, now)

	creds, err := iss.ForParty("call_1", "callee-42", RolePublisher)
	if err != nil {
		t.Fatalf("for party: %v", err)
	}
	if creds.UID != UID("callee-42") || creds.ChannelName != "call_1" || creds.AppID != "app-1" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if !creds.ExpiresAt.Equal(now.Add(config.DefaultMediaTokenTTL)) {
		t.Fatalf("unexpected expiry %v", creds.ExpiresAt)
	}
	if _, err := iss.VerifyMedia(creds.MediaToken, now); err != nil {
		t.Fatalf("media token: %v", err)
	}
	m, err := iss.VerifyMessaging(creds.MessagingToken, now)
	if err != nil || m.UserID != "callee-42" {
		t.Fatalf("messaging token: %+v %v", m, err)
	}
}

func TestWithClock_PinsIssuedAndExpiry(t *testing.T) {
	past := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, past)

	creds, err := iss.ForParty("call_1", "m1", RolePublisher)
	if err != nil {
		t.Fatalf("for party: %v", err)
	}
	claims, err := iss.VerifyMedia(creds.MediaToken, past)
	if err != nil {
		t.Fatalf("token minted on the injected clock must verify at that instant: %v", err)
	}
	if !claims.IssuedAt.Time.Equal(past) {
		t.Fatalf("expected iat %v, got %v", past, claims.IssuedAt.Time)
	}
	if _, err := NewIssuer(config.MediaConfig{AppID: "a", AppCertificate: "c"}, WithClock(nil)); err != nil {
		t.Fatalf("nil clock should fall back to wall time: %v", err)
	}
}
