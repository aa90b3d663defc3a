package certcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayforge/interceptproxy/internal/certauthority"
)

// DefaultKeyPrefix namespaces keys in the shared remote store.
const DefaultKeyPrefix = "proxy:cert:"

// RedisStore is the optional remote backend: atomic SET-with-TTL,
// last-writer-wins across a cluster of proxy processes. Deserialization
// errors delete the corrupt key and report a miss.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func NewRedisClient(url string, poolSize int, connectTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	if connectTimeout > 0 {
		opts.DialTimeout = connectTimeout
	}
	return redis.NewClient(opts), nil
}

type wireCertificate struct {
	LeafCertDER []byte    `json:"leaf_cert_der"`
	LeafKeyDER  []byte    `json:"leaf_key_der"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	SubjectHost string    `json:"subject_host"`
}

func (r *RedisStore) key(host string) string { return r.prefix + host }

func (r *RedisStore) Get(ctx context.Context, host string) (*certauthority.Certificate, bool) {
	raw, err := r.client.Get(ctx, r.key(host)).Bytes()
	if err != nil {
		if err != redis.Nil {
			warnOnBackendError("get", host, err)
		}
		return nil, false
	}

	var wire wireCertificate
	if err := json.Unmarshal(raw, &wire); err != nil {
		warnOnBackendError("get:decode", host, err)
		// Corrupt entry; delete it and report a miss.
		_ = r.client.Del(ctx, r.key(host)).Err()
		return nil, false
	}

	if time.Now().After(wire.ExpiresAt) {
		return nil, false
	}

	return &certauthority.Certificate{
		LeafCertDER: wire.LeafCertDER,
		LeafKeyDER:  wire.LeafKeyDER,
		IssuedAt:    wire.IssuedAt,
		ExpiresAt:   wire.ExpiresAt,
		SubjectHost: wire.SubjectHost,
	}, true
}

func (r *RedisStore) Put(ctx context.Context, host string, cert *certauthority.Certificate, ttl time.Duration) error {
	wire := wireCertificate{
		LeafCertDER: cert.LeafCertDER,
		LeafKeyDER:  cert.LeafKeyDER,
		IssuedAt:    cert.IssuedAt,
		ExpiresAt:   cert.ExpiresAt,
		SubjectHost: cert.SubjectHost,
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		warnOnBackendError("put:encode", host, err)
		return err
	}
	if err := r.client.Set(ctx, r.key(host), raw, ttl).Err(); err != nil {
		warnOnBackendError("put", host, err)
		return err
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, host string) error {
	if err := r.client.Del(ctx, r.key(host)).Err(); err != nil {
		warnOnBackendError("remove", host, err)
		return err
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			warnOnBackendError("clear", iter.Val(), err)
		}
	}
	return iter.Err()
}

func (r *RedisStore) Info() Info {
	return Info{Backend: "remote", Size: -1}
}
