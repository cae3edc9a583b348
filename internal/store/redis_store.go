package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"scoring-backend/internal/core/types"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisKeyPrefix = "scoring"
	maxTransactionRetries = 10
)

type redisRecord struct {
	Status    types.Status   `json:"status"`
	Input     types.TaskSpec `json:"input"`
	Output    *types.Output  `json:"output,omitempty"`
	WorkerId  string         `json:"workerId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RedisStore keeps one JSON value per request and a sorted set per status,
// scored by the last update time, for ListByStatus.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}

	return &RedisStore{client: redis.NewClient(opts), prefix: keyPrefix}, nil
}

func (s *RedisStore) requestKey(id uuid.UUID) string {
	return s.prefix + ":request:" + id.String()
}

func (s *RedisStore) statusKey(status types.Status) string {
	return s.prefix + ":status:" + string(status)
}

func timeScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (s *RedisStore) Create(ctx context.Context, req types.Request) error {
	data, err := json.Marshal(redisRecord{
		Status:    req.Status,
		Input:     req.Input,
		Output:    req.Output,
		WorkerId:  req.WorkerId,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("error encoding request record: %w", err)
	}

	key := s.requestKey(req.Id)
	err = s.watch(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, req.Id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.statusKey(req.Status), redis.Z{Score: timeScore(req.UpdatedAt), Member: req.Id.String()})
			return nil
		})
		return err
	})
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		slog.Error("error creating request record", "request_id", req.Id, "error", err)
		return fmt.Errorf("error creating request record: %w", err)
	}
	return err
}

// watch runs fn in an optimistic transaction on key, retrying when another
// writer modifies the key between WATCH and EXEC.
func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTransactionRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("too much contention on key %s", key)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, getter stringGetter, id uuid.UUID) (redisRecord, error) {
	raw, err := getter.Get(ctx, s.requestKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redisRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return redisRecord{}, fmt.Errorf("error getting request record: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return redisRecord{}, fmt.Errorf("error decoding request record %s: %w", id, err)
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (types.Request, error) {
	rec, err := s.get(ctx, s.client, id)
	if err != nil {
		return types.Request{}, err
	}
	return rec.toRequest(id), nil
}

func (s *RedisStore) Transition(ctx context.Context, id uuid.UUID, from, to types.Status, update Update) (types.Request, error) {
	if err := checkTransition(from, to); err != nil {
		return types.Request{}, err
	}

	key := s.requestKey(id)

	var result redisRecord
	txf := func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Status != from {
			result = rec
			return &StatusConflictError{RequestId: id, Expected: from, Actual: rec.Status}
		}

		rec.Status = to
		rec.UpdatedAt = time.Now().UTC()
		if update.WorkerId != "" {
			rec.WorkerId = update.WorkerId
		}
		if update.Output != nil {
			rec.Output = update.Output
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("error encoding request record: %w", err)
		}

		// Only executed if key was not modified since WATCH.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZRem(ctx, s.statusKey(from), id.String())
			pipe.ZAdd(ctx, s.statusKey(to), redis.Z{Score: timeScore(rec.UpdatedAt), Member: id.String()})
			return nil
		})
		if err == nil {
			result = rec
		}
		return err
	}

	err := s.watch(ctx, key, txf)
	if err == nil {
		return result.toRequest(id), nil
	}
	if IsStatusConflict(err) {
		return result.toRequest(id), err
	}
	if !errors.Is(err, ErrNotFound) {
		slog.Error("error updating request status", "request_id", id, "from", from, "to", to, "error", err)
		return types.Request{}, fmt.Errorf("error updating request status: %w", err)
	}
	return types.Request{}, err
}

func (s *RedisStore) ListByStatus(ctx context.Context, status types.Status, updatedBefore time.Time, limit int) ([]types.Request, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.statusKey(status), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(updatedBefore.UnixMicro(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		slog.Error("error listing requests by status", "status", status, "error", err)
		return nil, fmt.Errorf("error listing requests by status: %w", err)
	}

	requests := make([]types.Request, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			slog.Warn("skipping malformed id in status index", "status", status, "id", raw)
			continue
		}
		rec, err := s.get(ctx, s.client, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // evicted by retention policy
			}
			return nil, err
		}
		// The index is updated in the same transaction as the record, but a
		// record may have moved on since the range was read.
		if rec.Status != status {
			continue
		}
		requests = append(requests, rec.toRequest(id))
	}
	return requests, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (r redisRecord) toRequest(id uuid.UUID) types.Request {
	return types.Request{
		Id:        id,
		Status:    r.Status,
		Input:     r.Input,
		Output:    r.Output,
		WorkerId:  r.WorkerId,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
