package gridstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

// DefaultKeyPrefix namespaces grid hashes in Redis.
const DefaultKeyPrefix = "geoloc:grid:"

// Redis stores each entry as a hash holding the dimensions, steps,
// observer and the packed record blob.
type Redis struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL expires entries after d; zero keeps them.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

func NewRedis(rc *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{rc: rc, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenRedisFromEnv connects using REDIS_HOST (default 127.0.0.1),
// REDIS_PORT (6379), REDIS_PASS and REDIS_DB (0; ignored when unparsable).
func OpenRedisFromEnv(getenv func(string) string) *redis.Client {
	host := getenv("REDIS_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	db := 0
	if v := getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	return redis.NewClient(&redis.Options{Addr: host + ":" + port, Password: getenv("REDIS_PASS"), DB: db})
}

const (
	fieldRows    = "rows"
	fieldCols    = "cols"
	fieldRowStep = "row_step"
	fieldColStep = "col_step"
	fieldObsX    = "obs_x"
	fieldObsY    = "obs_y"
	fieldObsZ    = "obs_z"
	fieldRecords = "records"
)

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Save(ctx context.Context, key string, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	k := r.key(key)
	_, err := r.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k,
			fieldRows, e.RecordRows,
			fieldCols, e.RecordCols,
			fieldRowStep, e.RowStep,
			fieldColStep, e.ColStep,
			fieldObsX, formatFloat(e.Observer.X),
			fieldObsY, formatFloat(e.Observer.Y),
			fieldObsZ, formatFloat(e.Observer.Z),
			fieldRecords, losgrid.MarshalRecords(e.Records),
		)
		if r.ttl > 0 {
			p.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save grid %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, key string) (Entry, error) {
	h, err := r.rc.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("load grid %q: %w", key, err)
	}
	if len(h) == 0 {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	var e Entry
	ints := []struct {
		field string
		dst   *int
	}{
		{fieldRows, &e.RecordRows},
		{fieldCols, &e.RecordCols},
		{fieldRowStep, &e.RowStep},
		{fieldColStep, &e.ColStep},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(h[f.field]); err != nil {
			return Entry{}, fmt.Errorf("%w: field %s: %v", ErrInvalidEntry, f.field, err)
		}
	}
	floats := []struct {
		field string
		dst   *float64
	}{
		{fieldObsX, &e.Observer.X},
		{fieldObsY, &e.Observer.Y},
		{fieldObsZ, &e.Observer.Z},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(h[f.field], 64); err != nil {
			return Entry{}, fmt.Errorf("%w: field %s: %v", ErrInvalidEntry, f.field, err)
		}
	}
	if e.Records, err = losgrid.UnmarshalRecords([]byte(h[fieldRecords])); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	n, err := r.rc.Del(ctx, r.key(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete grid %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
