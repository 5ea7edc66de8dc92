package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeValidation, "failed to acquire lock")
	ErrLockNotHeld     = errors.New(errors.ErrCodeValidation, "lock not held by this owner")
)

// FlightToken is a cross-process single-flight marker: at most one holder
// succeeds in acquiring a given name before it expires. Unlike a classic
// mutex it carries no renewal/watchdog path — it is designed to expire on
// its own so a crashed holder never wedges a key past the fetch it guarded.
type FlightToken interface {
	// Acquire attempts to claim the token, returning false if another
	// holder already owns it.
	Acquire(ctx context.Context) (bool, error)
	// Release clears the token if this holder still owns it. Releasing
	// after expiry or from a non-owner is a no-op.
	Release(ctx context.Context) error
	// TTL reports the remaining time before the token self-expires.
	TTL(ctx context.Context) (time.Duration, error)
}

// FlightTokenFactory constructs FlightTokens bound to a Redis client.
type FlightTokenFactory interface {
	NewToken(name string, ttl time.Duration) FlightToken
}

type redisFlightTokenFactory struct {
	client *Client
	log    logging.Logger
}

// NewFlightTokenFactory returns a FlightTokenFactory backed by client.
func NewFlightTokenFactory(client *Client, log logging.Logger) FlightTokenFactory {
	return &redisFlightTokenFactory{client: client, log: log}
}

func (f *redisFlightTokenFactory) NewToken(name string, ttl time.Duration) FlightToken {
	return &redisFlightToken{
		client: f.client,
		name:   name,
		value:  uuid.New().String(),
		ttl:    ttl,
		log:    f.log,
	}
}

type redisFlightToken struct {
	client *Client
	name   string
	value  string
	ttl    time.Duration
	log    logging.Logger
}

var flightReleaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

func (t *redisFlightToken) Acquire(ctx context.Context) (bool, error) {
	key := buildFlightKey(t.name)
	ok, err := t.client.GetUnderlyingClient().SetNX(ctx, key, t.value, t.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to acquire flight token")
	}
	return ok, nil
}

func (t *redisFlightToken) Release(ctx context.Context) error {
	key := buildFlightKey(t.name)
	res, err := flightReleaseScript.Run(ctx, t.client.GetUnderlyingClient(), []string{key}, t.value).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release flight token")
	}
	if res.(int64) == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (t *redisFlightToken) TTL(ctx context.Context) (time.Duration, error) {
	key := buildFlightKey(t.name)
	return t.client.GetUnderlyingClient().PTTL(ctx, key).Result()
}

func buildFlightKey(name string) string {
	return "paperd:flight:" + name
}
