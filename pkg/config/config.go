package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ZEROPROOF"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv                  = "ZEROPROOF_APP_ENV"
	EnvPort                    = "ZEROPROOF_APP_PORT"
	EnvDBDSN                   = "ZEROPROOF_DB_DSN"
	EnvDBHost                  = "ZEROPROOF_DB_HOST"
	EnvDBUser                  = "ZEROPROOF_DB_USER"
	EnvDBName                  = "ZEROPROOF_DB_NAME"
	EnvRedisURL                = "ZEROPROOF_REDIS_URL"
	EnvJWTSecret               = "ZEROPROOF_JWT_SECRET"
	EnvJWTIssuer               = "ZEROPROOF_JWT_ISSUER"
	EnvJWTExpMins              = "ZEROPROOF_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes  = "ZEROPROOF_REFRESH_TOKEN_TTL_MINUTES"
	EnvUseSQLite               = "ZEROPROOF_USE_SQLITE"
	EnvSessionRetryBaseDelay   = "ZEROPROOF_SESSION_PROFILE_RETRY_BASE_DELAY"
	EnvSessionProfileRetries   = "ZEROPROOF_SESSION_PROFILE_MAX_RETRIES"
	EnvCompareStorageKey       = "ZEROPROOF_COMPARE_STORAGE_KEY"
	EnvClientStorageBackend    = "ZEROPROOF_CLIENT_STORAGE_BACKEND"
	EnvClientStorageSessionKey = "ZEROPROOF_CLIENT_STORAGE_SESSION_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// Database drivers.
const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// Client storage backends.
const (
	StorageBackendRedis  = "redis"
	StorageBackendSQL    = "sql"
	StorageBackendMemory = "memory"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	FeatureFlags  FeatureFlagsConfig
	Session       SessionConfig
	Compare       CompareConfig
	ClientStorage ClientStorageConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	} else if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.ClientStorage.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string   `envconfig:"ZEROPROOF_APP_ENV" required:"true"`
	Port           string   `envconfig:"ZEROPROOF_APP_PORT" required:"true"`
	LogLevel       string   `envconfig:"ZEROPROOF_LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"ZEROPROOF_LOG_FORMAT" default:"json"`
	LogWarnStack   bool     `envconfig:"ZEROPROOF_LOG_WARN_STACK" default:"false"`
	AllowedOrigins []string `envconfig:"ZEROPROOF_ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ZEROPROOF_DB_DSN"`
	Driver string `envconfig:"ZEROPROOF_DB_DRIVER" default:"postgres"`
	// SQLitePath is used when the sqlite feature flag is on.
	SQLitePath string `envconfig:"ZEROPROOF_DB_SQLITE_PATH" default:"zeroproof.db"`

	LegacyHost     string `envconfig:"ZEROPROOF_DB_HOST"`
	LegacyPort     int    `envconfig:"ZEROPROOF_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ZEROPROOF_DB_USER"`
	LegacyPassword string `envconfig:"ZEROPROOF_DB_PASSWORD"`
	LegacyName     string `envconfig:"ZEROPROOF_DB_NAME"`
	LegacySSLMode  string `envconfig:"ZEROPROOF_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ZEROPROOF_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"ZEROPROOF_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"ZEROPROOF_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ZEROPROOF_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ZEROPROOF_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ZEROPROOF_REDIS_ADDR"`
	Password     string        `envconfig:"ZEROPROOF_REDIS_PASSWORD"`
	DB           int           `envconfig:"ZEROPROOF_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ZEROPROOF_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ZEROPROOF_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ZEROPROOF_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ZEROPROOF_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ZEROPROOF_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"ZEROPROOF_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"ZEROPROOF_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"ZEROPROOF_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"ZEROPROOF_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// AccessTokenTTL returns the access token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ZEROPROOF_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ZEROPROOF_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ZEROPROOF_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ZEROPROOF_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ZEROPROOF_ARGON_KEY_LEN" default:"32"`
	MinLength        int `envconfig:"ZEROPROOF_PASSWORD_MIN_LENGTH" default:"6"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ZEROPROOF_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ZEROPROOF_AUTO_MIGRATE" default:"false"`
}

// SessionConfig tunes the profile lookup retry policy of the session bootstrap.
type SessionConfig struct {
	ProfileRetryBaseDelay time.Duration `envconfig:"ZEROPROOF_SESSION_PROFILE_RETRY_BASE_DELAY" default:"1s"`
	ProfileMaxRetries     uint64        `envconfig:"ZEROPROOF_SESSION_PROFILE_MAX_RETRIES" default:"3"`
}

type CompareConfig struct {
	StorageKey string `envconfig:"ZEROPROOF_COMPARE_STORAGE_KEY" default:"compare_products"`
}

type ClientStorageConfig struct {
	Backend    string `envconfig:"ZEROPROOF_CLIENT_STORAGE_BACKEND" default:"redis"`
	SessionKey string `envconfig:"ZEROPROOF_CLIENT_STORAGE_SESSION_KEY" default:"auth_session"`
}

func (c ClientStorageConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case StorageBackendRedis, StorageBackendSQL, StorageBackendMemory:
		return nil
	}
	return fmt.Errorf("%s must be one of %s, %s, %s", EnvClientStorageBackend, StorageBackendRedis, StorageBackendSQL, StorageBackendMemory)
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
