package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence records who is online and on which relay node, with a TTL so a
// crashed node's entries age out on their own.
//
// key board:presence:<user> -> nodeID
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

type PresenceConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewPresence(c PresenceConfig) (*Presence, error) {
	if c.TTL <= 0 {
		c.TTL = 90 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "presence: redis ping")
	}
	return &Presence{rdb: rdb, ttl: c.TTL}, nil
}

func presenceKey(user string) string { return "board:presence:" + user }

// Online marks the user online on nodeID and renews the TTL.
func (p *Presence) Online(ctx context.Context, user, nodeID string) error {
	return p.rdb.Set(ctx, presenceKey(user), nodeID, p.ttl).Err()
}

// Offline removes the user's presence key.
func (p *Presence) Offline(ctx context.Context, user string) error {
	return p.rdb.Del(ctx, presenceKey(user)).Err()
}

// Lookup reports whether the user is online and on which node.
func (p *Presence) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (p *Presence) Close() error { return p.rdb.Close() }
