package cachesvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/roster"
)

const pingTimeout = 5 * time.Second

// RosterCache keeps fetched rosters in Redis for a short while.
type RosterCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ roster.Cache = (*RosterCache)(nil)

// NewRedisClient returns nil when no Redis address is configured.
func NewRedisClient(conf *core.Config) *redis.Client {
	if conf.Redis.Address == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

// Connect returns a client that answered a ping, or nil when no Redis address is configured.
func Connect(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	client := NewRedisClient(conf)
	if client == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "pinging redis at %s", conf.Redis.Address)
	}
	return client, nil
}

func NewRosterCache(client redis.UniversalClient, conf *core.Config) *RosterCache {
	return &RosterCache{client: client, ttl: conf.Redis.RosterTTL}
}

func (c *RosterCache) Get(ctx context.Context, key string) (roster.Result, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return roster.Result{}, false, nil
		}
		return roster.Result{}, false, errors.Wrap(err, "reading roster cache")
	}
	var res roster.Result
	if err = json.Unmarshal(val, &res); err != nil {
		return roster.Result{}, false, errors.Wrap(err, "decoding cached roster")
	}
	return res, true, nil
}

func (c *RosterCache) Set(ctx context.Context, key string, res roster.Result) error {
	val, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encoding roster")
	}
	return errors.Wrap(c.client.Set(ctx, key, val, c.ttl).Err(), "writing roster cache")
}

func (c *RosterCache) Delete(ctx context.Context, key string) error {
	return errors.Wrap(c.client.Del(ctx, key).Err(), "deleting cached roster")
}
