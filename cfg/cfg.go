package cfg

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port              string
	Environment       string
	LogLevel          string
	TestMode          bool
	BaseURL           string
	StoreBackend      string
	DatabasePath      string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBQueryTimeout    time.Duration
	BoltPath          string
	BoltTimeout       time.Duration
	RedisURL          string
	RedisTLS          bool
	RedisUsername     string
	RedisPassword     Secret
	RedisCACert       string
	RedisTimeout      time.Duration
	RedisKeyPrefix    string
	MongoURI          Secret
	MongoDB           string
	MongoCollection   string
	MongoTimeout      time.Duration
	IDLength          int
	MaxPasteSize      int64
	ContextTimeout    time.Duration
	CleanupInterval   time.Duration
	AllowedOrigins    []string
	MetricsUser       string
	MetricsPass       Secret
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	MinReadTime       time.Duration
}

// fileDefaults holds KEY: value pairs from CONFIG_FILE. The environment
// always wins over the file.
var fileDefaults map[string]string

func Load() (*Cfg, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.Wrap(err, "load .env")
		}
	}
	fileDefaults = nil
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		d, err := readFileDefaults(path)
		if err != nil {
			return nil, err
		}
		fileDefaults = d
	}

	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.TestMode = getBool("TEST_MODE")
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", ""), "/")
	c.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite))
	c.DatabasePath = getEnv("DATABASE_PATH", "shortpaste.db")
	c.BoltPath = getEnv("BOLT_PATH", "shortpaste.bolt")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getBool("REDIS_TLS")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisCACert = getEnv("REDIS_TLS_CA_CERT", "")
	c.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", "paste:")
	c.MongoURI = NewSecret(getEnv("MONGODB_URI", ""))
	c.MongoDB = getEnv("MONGODB_DB", "pastebin")
	c.MongoCollection = getEnv("MONGODB_COLLECTION", "pastes")
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))

	var err error
	if c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25); err != nil {
		return nil, err
	}
	if c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return nil, err
	}
	if c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.BoltTimeout, err = getDuration("BOLT_TIMEOUT", time.Second); err != nil {
		return nil, err
	}
	if c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.MongoTimeout, err = getDuration("MONGODB_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.IDLength, err = getInt("ID_LENGTH", 21); err != nil {
		return nil, err
	}
	if c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 64*1024); err != nil {
		return nil, err
	}
	if c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if c.ReadHeaderTimeout, err = getDuration("READ_HEADER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.MinReadTime, err = getDuration("MIN_READ_TIME", 50*time.Millisecond); err != nil {
		return nil, err
	}
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("BASE_URL must be an absolute http(s) URL")
		}
	}

	switch c.StoreBackend {
	case BackendSQLite:
		if err := validateLocalPath("DATABASE_PATH", c.DatabasePath); err != nil {
			return err
		}
		if c.DBMaxOpenConns <= 0 {
			return errors.New("DB_MAX_OPEN_CONNS must be positive")
		}
		if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
			return errors.New("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS")
		}
	case BackendBolt:
		if err := validateLocalPath("BOLT_PATH", c.BoltPath); err != nil {
			return err
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
		if c.RedisKeyPrefix == "" {
			return errors.New("REDIS_KEY_PREFIX must not be empty")
		}
	case BackendMongo:
		uri := c.MongoURI.Value()
		if uri == "" {
			return errors.New("MONGODB_URI is required when STORE_BACKEND=mongo")
		}
		if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
			return errors.New("MONGODB_URI must start with mongodb:// or mongodb+srv://")
		}
		if c.MongoDB == "" || c.MongoCollection == "" {
			return errors.New("MONGODB_DB and MONGODB_COLLECTION must not be empty")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want redis, mongo, sqlite or bolt)", c.StoreBackend)
	}

	for name, d := range map[string]time.Duration{
		"DB_QUERY_TIMEOUT": c.DBQueryTimeout,
		"BOLT_TIMEOUT":     c.BoltTimeout,
		"REDIS_TIMEOUT":    c.RedisTimeout,
		"MONGODB_TIMEOUT":  c.MongoTimeout,
		"CONTEXT_TIMEOUT":  c.ContextTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
		if d > time.Minute {
			return fmt.Errorf("%s cannot exceed 1m", name)
		}
	}
	if c.MinReadTime < 0 || c.MinReadTime > time.Second {
		return errors.New("MIN_READ_TIME must be between 0 and 1s")
	}
	if c.CleanupInterval < time.Minute {
		return errors.New("CLEANUP_INTERVAL must be at least 1 minute")
	}
	if c.IDLength < 20 || c.IDLength > 64 {
		return errors.New("ID_LENGTH must be between 20 and 64")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.Environment == "production" {
		if c.TestMode {
			return errors.New("TEST_MODE must not be enabled in production")
		}
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

// validateLocalPath keeps embedded database files inside the working
// directory. In-memory SQLite DSNs are allowed as is.
func validateLocalPath(key, path string) error {
	if path == "" {
		return fmt.Errorf("%s is required", key)
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if !strings.HasPrefix(absPath, absWorkDir+string(filepath.Separator)) && absPath != absWorkDir {
		return fmt.Errorf("%s must be within working directory %s", key, absWorkDir)
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MongoURI.Wipe()
	c.MetricsPass.Wipe()
}
func readFileDefaults(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read CONFIG_FILE")
	}
	var parsed map[string]interface{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse CONFIG_FILE")
	}
	out := make(map[string]string, len(parsed))
	for k, v := range parsed {
		switch val := v.(type) {
		case nil:
			out[strings.ToUpper(k)] = ""
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		case map[string]interface{}:
			return nil, fmt.Errorf("CONFIG_FILE key %s: nested maps are not supported", k)
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	if v, ok := fileDefaults[key]; ok {
		return v
	}
	return fallback
}
func getBool(key string) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes":
		return true
	}
	return false
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
