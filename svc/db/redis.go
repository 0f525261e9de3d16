package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/url"
	"os"
	"shortpaste/cfg"
	"shortpaste/pkg/domain"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// incrViewsScript bumps views_used only when the paste hash exists, so a
// stray increment never materialises a half record. Returns -1 for a
// missing key.
var incrViewsScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return -1
	end
	return redis.call("HINCRBY", KEYS[1], "views_used", 1)
`)

// Redis stores each paste as a hash under prefix+id.
type Redis struct {
	client     *redis.Client
	timeout    time.Duration
	prefix     string
	expireKeys bool
}

func NewRedis(rawURL string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	opt.DialTimeout = c.RedisTimeout
	opt.ReadTimeout = c.RedisTimeout
	opt.WriteTimeout = c.RedisTimeout
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(rawURL, c.RedisCACert)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{
		client:  client,
		timeout: c.RedisTimeout,
		prefix:  c.RedisKeyPrefix,
		// Pinned test clocks produce expiry times in the distant past.
		expireKeys: !c.TestMode,
	}, nil
}
func buildRedisTLSConfig(rawURL, caPath string) (*tls.Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: u.Hostname(),
	}
	if caPath == "" {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load system cert pool")
		}
		tlsConfig.RootCAs = systemPool
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read Redis CA cert")
	}
	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append Redis CA cert to pool")
	}
	tlsConfig.RootCAs = certPool
	return tlsConfig, nil
}
func (r *Redis) key(id string) string {
	return r.prefix + id
}
func (r *Redis) Backend() string { return cfg.BackendRedis }

// Save replaces the whole hash in one MULTI block so a second Save with the
// same record leaves identical state.
func (r *Redis) Save(ctx context.Context, p *domain.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key := r.key(p.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":         p.ID,
			"content":    p.Content,
			"created_at": p.CreatedAt,
			"expires_at": formatOptional(p.ExpiresAt),
			"max_views":  formatOptional(p.MaxViews),
			"views_used": p.ViewsUsed,
		})
		if r.expireKeys && p.ExpiresAt != nil {
			// Raw milliseconds: time.Time.UnixNano overflows past 2262.
			pipe.Do(ctx, "pexpireat", key, *p.ExpiresAt)
		}
		return nil
	})
	return errors.Wrap(err, "save paste")
}
func (r *Redis) Get(ctx context.Context, id string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	if len(fields) == 0 {
		return nil, domain.ErrPasteNotFound
	}
	p, err := pasteFromHash(fields)
	if err != nil {
		return nil, errors.Wrapf(err, "decode paste %s", id)
	}
	return p, nil
}
func (r *Redis) IncrViews(ctx context.Context, id string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := incrViewsScript.Run(ctx, r.client, []string{r.key(id)}).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "incr views lua")
	}
	if n < 0 {
		return 0, domain.ErrPasteNotFound
	}
	return n, nil
}
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Ping(ctx).Err(), "ping redis")
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
func pasteFromHash(h map[string]string) (*domain.Paste, error) {
	p := &domain.Paste{
		ID:      h["id"],
		Content: h["content"],
	}
	var err error
	if p.CreatedAt, err = strconv.ParseInt(h["created_at"], 10, 64); err != nil {
		return nil, errors.Wrap(err, "created_at")
	}
	if p.ViewsUsed, err = strconv.ParseInt(h["views_used"], 10, 64); err != nil {
		return nil, errors.Wrap(err, "views_used")
	}
	if p.ExpiresAt, err = parseOptional(h["expires_at"]); err != nil {
		return nil, errors.Wrap(err, "expires_at")
	}
	if p.MaxViews, err = parseOptional(h["max_views"]); err != nil {
		return nil, errors.Wrap(err, "max_views")
	}
	return p, nil
}

// Hash fields cannot hold nil; an empty string stands in for null.
func formatOptional(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
func parseOptional(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
