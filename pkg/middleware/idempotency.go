package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"clinic-scheduling/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	idempotencyLockTTL = 30 * time.Second
)

// StoredResponse is a response kept for replay.
type StoredResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// IdempotencyStore remembers responses by key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	// Acquire reserves key for one in-flight request. It returns false when
	// another request holds it.
	Acquire(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string, resp StoredResponse) error
	Release(ctx context.Context, key string) error
}

type redisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) IdempotencyStore {
	return &redisIdempotencyStore{client: client, ttl: ttl}
}

func (s *redisIdempotencyStore) Get(ctx context.Context, key string) (*StoredResponse, error) {
	raw, err := s.client.Get(ctx, "idem:resp:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var resp StoredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *redisIdempotencyStore) Acquire(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, "idem:lock:"+key, 1, idempotencyLockTTL).Result()
}

func (s *redisIdempotencyStore) Save(ctx context.Context, key string, resp StoredResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "idem:resp:"+key, raw, s.ttl).Err()
}

func (s *redisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, "idem:lock:"+key).Err()
}

// recorder tees the response so it can be stored after the handler returns.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// Idempotency replays the first response of a request carrying an
// Idempotency-Key. Responses with status 5xx are not stored, so a request that
// failed with a retryable error can be resubmitted with the same key. A nil
// store disables the middleware.
func Idempotency(store IdempotencyStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(IdempotencyHeader)
			if header == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := r.URL.Path + ":" + header

			stored, err := store.Get(ctx, key)
			if err != nil {
				// without the store the request runs as if no key was sent
				logger.Warn("Idempotency lookup failed", zap.Error(err), zap.String("key", key))
				next.ServeHTTP(w, r)
				return
			}
			if stored != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}

			acquired, err := store.Acquire(ctx, key)
			if err != nil {
				logger.Warn("Idempotency lock failed", zap.Error(err), zap.String("key", key))
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				utils.ResponseConflict(w, "REQUEST_IN_PROGRESS", "A request with this idempotency key is in progress", nil)
				return
			}

			bg := context.WithoutCancel(ctx)
			defer func() {
				if err := store.Release(bg, key); err != nil {
					logger.Warn("Idempotency unlock failed", zap.Error(err), zap.String("key", key))
				}
			}()

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			if err := store.Save(bg, key, StoredResponse{Status: rec.status, Body: rec.body.Bytes()}); err != nil {
				logger.Warn("Idempotency save failed", zap.Error(err), zap.String("key", key))
			}
		})
	}
}
