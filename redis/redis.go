// Package redis keeps flow checkpoints in Redis so a restarted daemon or a
// reloaded UI can pick up the current session.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gowrapportal/types"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "redis").Logger()
}

// one set of flow ids per status
var statusSets = map[types.FlowStatus]string{
	types.FlowPlanned:   "flows:planned",
	types.FlowExecuting: "flows:executing",
	types.FlowWaiting:   "flows:waiting",
	types.FlowSucceeded: "flows:success",
	types.FlowFailed:    "flows:failed",
	types.FlowAbandoned: "flows:abandoned",
}

func recordKey(id string) string {
	return fmt.Sprintf("flow:%s", id)
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func NewPool(host string, port int) *redis.Pool {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 5 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
	}
}

// Store implements the orchestrator's session store. Records expire after
// ttl without updates.
type Store struct {
	pool *redis.Pool
	ttl  time.Duration
}

func NewStore(pool *redis.Pool, ttl time.Duration) *Store {
	return &Store{pool: pool, ttl: ttl}
}

func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "redis connection")
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return errors.Wrap(err, "redis ping")
}

// note that a flow id is a member of exactly one status set
func (s *Store) Save(ctx context.Context, rec types.FlowRecord) error {
	if rec.Status == "" {
		return errors.New("flow record cannot have empty status")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	set, ok := statusSets[rec.Status]
	if !ok {
		return errors.Errorf("unknown flow status %q", rec.Status)
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "cannot marshal flow record to JSON")
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	ttl := int64(s.ttl / time.Second)
	if err := conn.Send("MULTI"); err != nil {
		return errors.Wrap(err, "redis MULTI")
	}
	for _, other := range statusSets {
		if other != set {
			_ = conn.Send("SREM", other, rec.ID)
		}
	}
	if ttl > 0 {
		_ = conn.Send("SET", recordKey(rec.ID), recJSON, "EX", ttl)
	} else {
		_ = conn.Send("SET", recordKey(rec.ID), recJSON)
	}
	_ = conn.Send("SADD", set, rec.ID)
	if _, err := conn.Do("EXEC"); err != nil {
		log.Error().Err(err).Str("flow", rec.ID).Msg("error Redis SET")
		return errors.Wrap(err, "redis EXEC")
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (types.FlowRecord, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return types.FlowRecord{}, false, errors.Wrap(err, "redis connection")
	}
	defer conn.Close()
	return load(conn, id)
}

func load(conn redis.Conn, id string) (types.FlowRecord, bool, error) {
	raw, err := redis.Bytes(conn.Do("GET", recordKey(id)))
	if errors.Is(err, redis.ErrNil) {
		return types.FlowRecord{}, false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("flow", id).Msg("error Redis GET")
		return types.FlowRecord{}, false, errors.Wrap(err, "redis GET")
	}

	var rec types.FlowRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.FlowRecord{}, false, errors.Wrapf(err, "flow %s", id)
	}
	return rec, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return errors.Wrap(err, "redis MULTI")
	}
	_ = conn.Send("DEL", recordKey(id))
	for _, set := range statusSets {
		_ = conn.Send("SREM", set, id)
	}
	_, err = conn.Do("EXEC")
	return errors.Wrap(err, "redis EXEC")
}

// FindByStatus scans the status set and returns every live record in it.
// Ids whose record already expired are removed from the set.
func (s *Store) FindByStatus(ctx context.Context, status types.FlowStatus) ([]types.FlowRecord, error) {
	set, ok := statusSets[status]
	if !ok {
		return nil, errors.Errorf("unknown flow status %q", status)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	recs := make([]types.FlowRecord, 0)
	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", set, cursor))
		if err != nil {
			return nil, errors.Wrap(err, "redis SSCAN")
		}

		var ids []string
		if _, err = redis.Scan(values, &cursor, &ids); err != nil {
			return nil, errors.Wrap(err, "redis SSCAN reply")
		}

		for _, id := range ids {
			rec, found, err := load(conn, id)
			if err != nil {
				return nil, err
			}
			if !found {
				if _, err := conn.Do("SREM", set, id); err != nil {
					log.Warn().Err(err).Str("flow", id).Msg("error Redis SREM")
				}
				continue
			}
			if rec.Status == status {
				recs = append(recs, rec)
			}
		}

		if cursor == 0 {
			break
		}
	}
	return recs, nil
}
