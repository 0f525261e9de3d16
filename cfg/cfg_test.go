package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validCfg() *Cfg {
	return &Cfg{
		Port:            "8080",
		Environment:     "development",
		StoreBackend:    BackendSQLite,
		DatabasePath:    "shortpaste.db",
		DBMaxOpenConns:  25,
		DBMaxIdleConns:  5,
		DBQueryTimeout:  5 * time.Second,
		BoltTimeout:     time.Second,
		RedisTimeout:    5 * time.Second,
		MongoTimeout:    5 * time.Second,
		ContextTimeout:  5 * time.Second,
		CleanupInterval: 10 * time.Minute,
		IDLength:        21,
		MaxPasteSize:    64 * 1024,
		RedisKeyPrefix:  "paste:",
		MongoDB:         "pastebin",
		MongoCollection: "pastes",
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	os.Unsetenv("STORE_BACKEND")
	t.Setenv("CONFIG_FILE", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Port != "8080" {
		t.Errorf("Port = %s, want 8080", c.Port)
	}
	if c.StoreBackend != BackendSQLite {
		t.Errorf("StoreBackend = %s, want sqlite", c.StoreBackend)
	}
	if c.IDLength != 21 {
		t.Errorf("IDLength = %d, want 21", c.IDLength)
	}
	if c.TestMode {
		t.Error("TestMode should default to off")
	}
	if c.MinReadTime != 50*time.Millisecond {
		t.Errorf("MinReadTime = %v, want 50ms", c.MinReadTime)
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TEST_MODE", "1")
	t.Setenv("REDIS_TIMEOUT", "750ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BASE_URL", "https://paste.example/")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.StoreBackend != BackendRedis {
		t.Errorf("StoreBackend = %s", c.StoreBackend)
	}
	if !c.TestMode {
		t.Error("TEST_MODE=1 not honoured")
	}
	if c.RedisTimeout != 750*time.Millisecond {
		t.Errorf("RedisTimeout = %v", c.RedisTimeout)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", c.AllowedOrigins)
	}
	if c.BaseURL != "https://paste.example" {
		t.Errorf("BaseURL = %s, trailing slash should be trimmed", c.BaseURL)
	}
	if err := Validate(c); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("ID_LENGTH", "twenty")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric ID_LENGTH")
	}
}

func TestConfigFileDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shortpaste.yaml")
	content := "STORE_BACKEND: bolt\nid_length: 24\nallowed_origins:\n  - https://x.example\n  - https://y.example\nPORT: 9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.StoreBackend != BackendBolt {
		t.Errorf("StoreBackend = %s, want bolt from file", c.StoreBackend)
	}
	if c.IDLength != 24 {
		t.Errorf("IDLength = %d, want 24 from file", c.IDLength)
	}
	if strings.Join(c.AllowedOrigins, ",") != "https://x.example,https://y.example" {
		t.Errorf("AllowedOrigins = %v", c.AllowedOrigins)
	}
	if c.Port != "9100" {
		t.Errorf("Port = %s, environment should win over file", c.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Cfg)
		wantErr string
	}{
		{"ok", func(c *Cfg) {}, ""},
		{"bad port", func(c *Cfg) { c.Port = "http" }, "PORT must be a number"},
		{"unknown backend", func(c *Cfg) { c.StoreBackend = "etcd" }, "unknown STORE_BACKEND"},
		{"redis without url", func(c *Cfg) { c.StoreBackend = BackendRedis }, "REDIS_URL is required"},
		{"redis bad scheme", func(c *Cfg) {
			c.StoreBackend = BackendRedis
			c.RedisURL = "http://localhost"
		}, "must start with redis://"},
		{"rediss without tls", func(c *Cfg) {
			c.StoreBackend = BackendRedis
			c.RedisURL = "rediss://localhost:6380"
		}, "REDIS_TLS=false"},
		{"mongo without uri", func(c *Cfg) { c.StoreBackend = BackendMongo }, "MONGODB_URI is required"},
		{"mongo ok", func(c *Cfg) {
			c.StoreBackend = BackendMongo
			c.MongoURI = NewSecret("mongodb://localhost:27017")
		}, ""},
		{"db outside workdir", func(c *Cfg) { c.DatabasePath = "/etc/shortpaste.db" }, "within working directory"},
		{"memory dsn", func(c *Cfg) { c.DatabasePath = "file:memdb1?mode=memory&cache=shared" }, ""},
		{"short ids", func(c *Cfg) { c.IDLength = 8 }, "ID_LENGTH"},
		{"zero timeout", func(c *Cfg) { c.RedisTimeout = 0 }, "REDIS_TIMEOUT must be positive"},
		{"huge paste", func(c *Cfg) { c.MaxPasteSize = 11 * 1024 * 1024 }, "cannot exceed 10MB"},
		{"negative read floor", func(c *Cfg) { c.MinReadTime = -time.Millisecond }, "MIN_READ_TIME"},
		{"read floor off", func(c *Cfg) { c.MinReadTime = 0 }, ""},
		{"test mode in prod", func(c *Cfg) {
			c.Environment = "production"
			c.TestMode = true
		}, "TEST_MODE must not be enabled in production"},
		{"prod needs metrics auth", func(c *Cfg) { c.Environment = "production" }, "METRICS_USER"},
		{"bad base url", func(c *Cfg) { c.BaseURL = "paste.example" }, "BASE_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCfg()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecretRedacted(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() != "***REDACTED***" {
		t.Errorf("String() leaked secret: %s", s.String())
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("Wipe did not clear the value")
	}
}
