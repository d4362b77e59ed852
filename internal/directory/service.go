package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callbridge/internal/push"
)

// Repository is the persistence contract for the account read model.
type Repository interface {
	Get(ctx context.Context, pool Pool, id string) (Account, error)
	GetByEmail(ctx context.Context, pool Pool, email string) (Account, error)
	ListCallable(ctx context.Context, onlineOnly bool) ([]Account, error)
	Upsert(ctx context.Context, a Account) error
	UpdateDevice(ctx context.Context, calleeID, pushToken string, platform Platform, now time.Time) (Account, error)
	UpdatePresence(ctx context.Context, calleeID string, online bool, now time.Time) (Account, error)
}

var (
	ErrNotFound        = errors.New("directory: account not found")
	ErrNoDevice        = errors.New("directory: account has no registered device")
	ErrInvalidArgument = errors.New("directory: invalid argument")
)

// Service looks up counterpart accounts and records callee device state.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// FindCallee resolves a target by id or email. Inactive accounts are treated
// as absent.
func (s *Service) FindCallee(ctx context.Context, t Target) (Account, error) {
	id := strings.TrimSpace(t.ID)
	email := normalizeEmail(t.Email)

	var (
		a   Account
		err error
	)
	switch {
	case id != "":
		a, err = s.repo.Get(ctx, PoolCallee, id)
	case email != "":
		a, err = s.repo.GetByEmail(ctx, PoolCallee, email)
	default:
		return Account{}, fmt.Errorf("%w: calleeId or email is required", ErrInvalidArgument)
	}
	if err != nil {
		return Account{}, err
	}
	if !a.Active {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// FindCallable is FindCallee plus the device requirement for initiating a call.
func (s *Service) FindCallable(ctx context.Context, t Target) (Account, error) {
	a, err := s.FindCallee(ctx, t)
	if err != nil {
		return Account{}, err
	}
	if !a.HasDevice() {
		return Account{}, ErrNoDevice
	}
	return a, nil
}

func (s *Service) FindCaller(ctx context.Context, id string) (Account, error) {
	if id == "" {
		return Account{}, ErrInvalidArgument
	}
	a, err := s.repo.Get(ctx, PoolCaller, id)
	if err != nil {
		return Account{}, err
	}
	if !a.Active {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// Lookup returns an account from either pool without the active check; call
// records keep pointing at deactivated accounts.
func (s *Service) Lookup(ctx context.Context, pool Pool, id string) (Account, error) {
	if !pool.Valid() || id == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, pool, id)
}

// ListCallable returns active callees with a registered device.
func (s *Service) ListCallable(ctx context.Context, onlineOnly bool) ([]Summary, error) {
	accounts, err := s.repo.ListCallable(ctx, onlineOnly)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Summary())
	}
	return out, nil
}

func (s *Service) RegisterDevice(ctx context.Context, calleeID, pushToken, platform string) (Account, error) {
	pushToken = strings.TrimSpace(pushToken)
	if calleeID == "" || pushToken == "" {
		return Account{}, fmt.Errorf("%w: pushToken is required", ErrInvalidArgument)
	}
	if !push.ValidEndpointToken(pushToken) {
		return Account{}, fmt.Errorf("%w: pushToken is not a push endpoint token", ErrInvalidArgument)
	}
	p, err := parsePlatform(platform)
	if err != nil {
		return Account{}, err
	}
	return s.repo.UpdateDevice(ctx, calleeID, pushToken, p, s.clock().UTC())
}

func (s *Service) UnregisterDevice(ctx context.Context, calleeID string) error {
	if calleeID == "" {
		return ErrInvalidArgument
	}
	_, err := s.repo.UpdateDevice(ctx, calleeID, "", "", s.clock().UTC())
	return err
}

func (s *Service) SetOnline(ctx context.Context, calleeID string, online bool) (Account, error) {
	if calleeID == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.repo.UpdatePresence(ctx, calleeID, online, s.clock().UTC())
}

// Upsert is the write path for the account service that owns registration.
func (s *Service) Upsert(ctx context.Context, a Account) error {
	if a.ID == "" || !a.Pool.Valid() {
		return ErrInvalidArgument
	}
	a.Email = normalizeEmail(a.Email)
	now := s.clock().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return s.repo.Upsert(ctx, a)
}

func parsePlatform(v string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(v))); p {
	case "", PlatformIOS, PlatformAndroid:
		return p, nil
	default:
		return "", fmt.Errorf("%w: platform must be ios or android", ErrInvalidArgument)
	}
}

func normalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
