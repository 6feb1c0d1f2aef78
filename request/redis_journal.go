package request

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisJournalConfig configures the Redis journal.
type RedisJournalConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// RedisJournal is a Redis-backed Journal.
// Request snapshots are stored as JSON strings with sorted sets for the
// state and owner indexes.
type RedisJournal struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisJournal connects to Redis and verifies the connection.
func NewRedisJournal(cfg RedisJournalConfig) (*RedisJournal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisJournalWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisJournalWithClient wraps an existing client.
func NewRedisJournalWithClient(client *redis.Client, keyPrefix string) *RedisJournal {
	if keyPrefix == "" {
		keyPrefix = "fogbow:"
	}
	return &RedisJournal{client: client, keyPrefix: keyPrefix + "request:"}
}

func (j *RedisJournal) dataKey(id string) string {
	return j.keyPrefix + "data:" + id
}

func (j *RedisJournal) stateKey(state State) string {
	return j.keyPrefix + "state:" + string(state)
}

func (j *RedisJournal) ownerKey(owner string) string {
	return j.keyPrefix + "owner:" + owner
}

func (j *RedisJournal) allKey() string {
	return j.keyPrefix + "all"
}

// Save implements Journal.
func (j *RedisJournal) Save(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	score := float64(req.CreatedAt.UnixNano())
	member := redis.Z{Score: score, Member: req.ID}

	pipe := j.client.TxPipeline()
	pipe.Set(ctx, j.dataKey(req.ID), data, 0)
	for _, st := range AllStates {
		if st != req.State {
			pipe.ZRem(ctx, j.stateKey(st), req.ID)
		}
	}
	pipe.ZAdd(ctx, j.stateKey(req.State), member)
	pipe.ZAdd(ctx, j.ownerKey(req.Owner), member)
	pipe.ZAdd(ctx, j.allKey(), member)
	_, err = pipe.Exec(ctx)
	return err
}

// Delete implements Journal.
func (j *RedisJournal) Delete(ctx context.Context, id string) error {
	existing, err := j.get(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := j.client.TxPipeline()
	pipe.Del(ctx, j.dataKey(id))
	for _, st := range AllStates {
		pipe.ZRem(ctx, j.stateKey(st), id)
	}
	pipe.ZRem(ctx, j.ownerKey(existing.Owner), id)
	pipe.ZRem(ctx, j.allKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

// Load implements Journal.
func (j *RedisJournal) Load(ctx context.Context) ([]*Request, error) {
	ids, err := j.client.ZRange(ctx, j.allKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(ids))
	for _, id := range ids {
		req, err := j.get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// IDsByState returns the journaled ids in the given state, oldest first.
func (j *RedisJournal) IDsByState(ctx context.Context, state State) ([]string, error) {
	return j.client.ZRange(ctx, j.stateKey(state), 0, -1).Result()
}

// IDsByOwner returns the journaled ids of the owner, oldest first.
func (j *RedisJournal) IDsByOwner(ctx context.Context, owner string) ([]string, error) {
	return j.client.ZRange(ctx, j.ownerKey(owner), 0, -1).Result()
}

func (j *RedisJournal) get(ctx context.Context, id string) (*Request, error) {
	data, err := j.client.Get(ctx, j.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request %s: %w", id, err)
	}
	return &req, nil
}

// Ping implements Journal.
func (j *RedisJournal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}

// Close implements Journal.
func (j *RedisJournal) Close() error {
	return j.client.Close()
}
