package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	Store      StoreConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Media      MediaConfig
	Push       PushConfig
	Revocation RevocationConfig
	Events     EventsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// StoreConfig selects the persistence backend for call sessions, the directory and audit.
// Accepts: postgres, memory. memory is refused in production.
type StoreConfig struct {
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// MediaConfig carries the application identity and signing secret for media and
// messaging credentials.
type MediaConfig struct {
	AppID          string
	AppCertificate string
	TokenTTL       time.Duration
}

type PushConfig struct {
	Endpoint    string
	Timeout     time.Duration
	AccessToken string
}

// RevocationConfig controls where invalidated session tokens are tracked.
// Accepts: memory, redis.
type RevocationConfig struct {
	Backend       string
	SweepInterval time.Duration
}

// EventsConfig controls call-state fan-out to websocket subscribers.
// Accepts: memory, redis.
type EventsConfig struct {
	Backend        string
	AllowedOrigins []string
}

const (
	DefaultPushEndpoint    = "https://exp.host/--/api/v2/push/send"
	DefaultMediaTokenTTL   = 24 * time.Hour
	DefaultAccessTokenTTL  = 30 * 24 * time.Hour
	DefaultPushTimeout     = 10 * time.Second
	DefaultRevocationSweep = 30 * time.Minute
	BackendMemory          = "memory"
	BackendRedis           = "redis"
	StoreDriverPostgres    = "postgres"
	StoreDriverMemory      = "memory"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Store.Driver = strings.TrimSpace(os.Getenv("STORE_DRIVER"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = optionalInt("DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optionalInt("REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Media.AppID = strings.TrimSpace(os.Getenv("MEDIA_APP_ID"))
	c.Media.AppCertificate = os.Getenv("MEDIA_APP_CERTIFICATE")
	c.Media.TokenTTL = mustDuration("MEDIA_TOKEN_TTL")

	c.Push.Endpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))
	c.Push.Timeout = mustDuration("PUSH_TIMEOUT")
	c.Push.AccessToken = os.Getenv("PUSH_ACCESS_TOKEN")

	c.Revocation.Backend = strings.TrimSpace(os.Getenv("REVOCATION_BACKEND"))
	c.Revocation.SweepInterval = mustDuration("REVOCATION_SWEEP_INTERVAL")

	c.Events.Backend = strings.TrimSpace(os.Getenv("EVENTS_BACKEND"))
	c.Events.AllowedOrigins = splitList(os.Getenv("WS_ALLOWED_ORIGINS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills in defaults for optional values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}
	switch c.Store.Driver {
	case StoreDriverPostgres:
		errs = append(errs, c.validateDB()...)
	case StoreDriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of postgres, memory, got %q", c.Store.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = DefaultAccessTokenTTL
	}

	if c.Media.AppID == "" {
		errs = append(errs, errors.New("MEDIA_APP_ID is required"))
	}
	if c.Media.AppCertificate == "" {
		errs = append(errs, errors.New("MEDIA_APP_CERTIFICATE is required"))
	}
	if c.Media.TokenTTL <= 0 {
		c.Media.TokenTTL = DefaultMediaTokenTTL
	}

	if c.Push.Endpoint == "" {
		c.Push.Endpoint = DefaultPushEndpoint
	}
	if !strings.HasPrefix(c.Push.Endpoint, "https://") && c.IsProduction() {
		errs = append(errs, fmt.Errorf("PUSH_ENDPOINT must be https in production, got %q", c.Push.Endpoint))
	}
	if c.Push.Timeout <= 0 {
		c.Push.Timeout = DefaultPushTimeout
	}

	if c.Revocation.Backend == "" {
		c.Revocation.Backend = BackendMemory
	}
	if c.Revocation.SweepInterval <= 0 {
		c.Revocation.SweepInterval = DefaultRevocationSweep
	}
	if c.Events.Backend == "" {
		c.Events.Backend = BackendMemory
	}
	for name, backend := range map[string]string{
		"REVOCATION_BACKEND": c.Revocation.Backend,
		"EVENTS_BACKEND":     c.Events.Backend,
	} {
		if backend != BackendMemory && backend != BackendRedis {
			errs = append(errs, fmt.Errorf("%s must be one of memory, redis, got %q", name, backend))
		}
	}
	if c.NeedsRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when a redis backend is selected"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// NeedsRedis reports whether any backend depends on a redis connection.
func (c Config) NeedsRedis() bool {
	return c.Revocation.Backend == BackendRedis || c.Events.Backend == BackendRedis
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalInt returns 0 for unset or malformed values; Validate reports them
// only when the owning backend is selected.
func optionalInt(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
