package credentials

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"callbridge/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the media-channel privilege granted by a token.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// ParseRole accepts only the two media roles. An empty value means publisher.
func ParseRole(v string) (Role, error) {
	switch Role(v) {
	case "", RolePublisher:
		return RolePublisher, nil
	case RoleSubscriber:
		return RoleSubscriber, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, v)
	}
}

type tokenKind string

const (
	kindMedia     tokenKind = "rtc"
	kindMessaging tokenKind = "rtm"
)

var (
	ErrNotConfigured = errors.New("credentials: media app id and certificate are required")
	ErrInvalidRole   = errors.New("credentials: role must be publisher or subscriber")
	ErrInvalidInput  = errors.New("credentials: channel and identity are required")
	ErrInvalidToken  = errors.New("credentials: invalid token")
)

// MediaClaims bind a media-channel grant to one channel, one identity and one role.
// Exactly one of UID or Account is set.
type MediaClaims struct {
	jwt.RegisteredClaims

	AppID   string    `json:"app_id"`
	Kind    tokenKind `json:"kind"`
	Channel string    `json:"channel"`
	UID     uint32    `json:"uid,omitempty"`
	Account string    `json:"account,omitempty"`
	Role    Role      `json:"role"`
}

// MessagingClaims bind a messaging-channel grant to a user identifier only.
type MessagingClaims struct {
	jwt.RegisteredClaims

	AppID  string    `json:"app_id"`
	Kind   tokenKind `json:"kind"`
	UserID string    `json:"user_id"`
}

// Issuer mints stateless, HMAC-signed media and messaging credentials.
// Tokens are never persisted; any holder of the certificate can verify them offline.
type Issuer struct {
	appID  string
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// Option adjusts an Issuer at construction.
type Option func(*Issuer)

// WithClock replaces the wall clock used for iat/exp.
func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// NewIssuer validates the application identity once, at startup.
func NewIssuer(cfg config.MediaConfig, opts ...Option) (*Issuer, error) {
	if cfg.AppID == "" || cfg.AppCertificate == "" {
		return nil, ErrNotConfigured
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = config.DefaultMediaTokenTTL
	}
	i := &Issuer{
		appID:  cfg.AppID,
		secret: []byte(cfg.AppCertificate),
		ttl:    ttl,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Issuer) AppID() string { return i.appID }

// PartyCredentials is everything one call participant needs to join a channel.
type PartyCredentials struct {
	AppID          string    `json:"appId"`
	ChannelName    string    `json:"channelName"`
	UID            uint32    `json:"uid"`
	MediaToken     string    `json:"rtcToken"`
	MessagingToken string    `json:"rtmToken"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// ForParty issues a media token for the account's hashed numeric id plus a
// messaging token for the account itself, both with the default lifetime.
func (i *Issuer) ForParty(channel, accountID string, role Role) (PartyCredentials, error) {
	uid := UID(accountID)
	now := i.now()

	media, err := i.issueMedia(now, channel, uid, "", role, i.ttl)
	if err != nil {
		return PartyCredentials{}, err
	}
	msg, err := i.issueMessaging(now, accountID, i.ttl)
	if err != nil {
		return PartyCredentials{}, err
	}
	return PartyCredentials{
		AppID:          i.appID,
		ChannelName:    channel,
		UID:            uid,
		MediaToken:     media,
		MessagingToken: msg,
		ExpiresAt:      expiry(now, i.ttl),
	}, nil
}

// IssueMedia issues a media token addressed by numeric id. ttl <= 0 uses the default.
func (i *Issuer) IssueMedia(channel string, uid uint32, role Role, ttl time.Duration) (string, error) {
	return i.issueMedia(i.now(), channel, uid, "", role, ttl)
}

// IssueMediaForAccount issues a media token addressed by string account.
func (i *Issuer) IssueMediaForAccount(channel, account string, role Role, ttl time.Duration) (string, error) {
	if account == "" {
		return "", ErrInvalidInput
	}
	return i.issueMedia(i.now(), channel, 0, account, role, ttl)
}

// IssueMessaging issues a messaging-channel token for userID. ttl <= 0 uses the default.
func (i *Issuer) IssueMessaging(userID string, ttl time.Duration) (string, error) {
	return i.issueMessaging(i.now(), userID, ttl)
}

// VerifyMedia checks signature, kind and expiry at the given instant.
func (i *Issuer) VerifyMedia(token string, at time.Time) (MediaClaims, error) {
	var claims MediaClaims
	if err := i.parse(token, &claims, at); err != nil {
		return MediaClaims{}, err
	}
	if claims.Kind != kindMedia || claims.AppID != i.appID || claims.Channel == "" {
		return MediaClaims{}, ErrInvalidToken
	}
	if _, err := ParseRole(string(claims.Role)); err != nil || claims.Role == "" {
		return MediaClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// VerifyMessaging checks signature, kind and expiry at the given instant.
func (i *Issuer) VerifyMessaging(token string, at time.Time) (MessagingClaims, error) {
	var claims MessagingClaims
	if err := i.parse(token, &claims, at); err != nil {
		return MessagingClaims{}, err
	}
	if claims.Kind != kindMessaging || claims.AppID != i.appID || claims.UserID == "" {
		return MessagingClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) issueMedia(now time.Time, channel string, uid uint32, account string, role Role, ttl time.Duration) (string, error) {
	if channel == "" {
		return "", ErrInvalidInput
	}
	if role != RolePublisher && role != RoleSubscriber {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if ttl <= 0 {
		ttl = i.ttl
	}
	subject := account
	if subject == "" {
		subject = strconv.FormatUint(uint64(uid), 10)
	}
	claims := MediaClaims{
		RegisteredClaims: i.registered(now, subject, ttl),
		AppID:            i.appID,
		Kind:             kindMedia,
		Channel:          channel,
		UID:              uid,
		Account:          account,
		Role:             role,
	}
	return i.sign(claims)
}

func (i *Issuer) issueMessaging(now time.Time, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = i.ttl
	}
	claims := MessagingClaims{
		RegisteredClaims: i.registered(now, userID, ttl),
		AppID:            i.appID,
		Kind:             kindMessaging,
		UserID:           userID,
	}
	return i.sign(claims)
}

func (i *Issuer) registered(now time.Time, subject string, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    i.appID,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry(now, ttl)),
		ID:        uuid.NewString(),
	}
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}

func (i *Issuer) parse(token string, claims jwt.Claims, at time.Time) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return at }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(i.appID),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

func (i *Issuer) now() time.Time {
	return i.clock().UTC().Truncate(time.Second)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl)
}
