package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

const (
	defaultKeyPrefix = "intake:"
	sessionKeyPrefix = "session:"
	activityIndexKey = "sessions:activity"
	// ttlGrace оставляет сессию в Redis чуть дольше таймаута, чтобы housekeeping
	// успел перевести её в Cancelled до удаления ключа.
	ttlGrace = 5 * time.Minute
)

// SessionStore хранит сессии в Redis: JSON-значение с TTL и sorted set
// по времени последней активности для выборки неактивных сессий.
type SessionStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *log.Entry
}

// Option настраивает SessionStore.
type Option func(*SessionStore)

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(s *SessionStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithIdleTimeout задаёт таймаут неактивности; TTL ключа = таймаут + ttlGrace.
// Нулевой таймаут отключает истечение ключей.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *SessionStore) {
		if timeout > 0 {
			s.ttl = timeout + ttlGrace
		} else {
			s.ttl = 0
		}
	}
}

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionStore создаёт хранилище поверх готового клиента.
func NewSessionStore(client goredis.UniversalClient, opts ...Option) *SessionStore {
	s := &SessionStore{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    15*time.Minute + ttlGrace,
		logger: log.WithField("component", "redis-session-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping проверяет доступность Redis для readiness.
func (s *SessionStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis session store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	if id == "" {
		return domain.Session{}, domain.ErrSessionIDRequired
	}
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: get session: %w", domain.ErrPersistenceFailure, err)
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("%w: decode session %s: %w", domain.ErrPersistenceFailure, id, err)
	}
	return session, nil
}

func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	if session.ID == "" {
		return domain.ErrSessionIDRequired
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.ID), raw, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{
			Score:  float64(session.LastActivity.UnixMilli()),
			Member: session.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save session: %w", domain.ErrPersistenceFailure, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete session: %w", domain.ErrPersistenceFailure, err)
	}
	return nil
}

// ListIdle читает индекс активности до before включительно, старые первыми.
// Члены индекса, чьи ключи уже истекли по TTL, удаляются из индекса.
func (s *SessionStore) ListIdle(ctx context.Context, before time.Time, limit int) ([]domain.Session, error) {
	rangeBy := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list idle sessions: %w", domain.ErrPersistenceFailure, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: load idle sessions: %w", domain.ErrPersistenceFailure, err)
	}

	sessions := make([]domain.Session, 0, len(ids))
	var stale []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var session domain.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			// Битая запись не должна останавливать истечение остальных сессий.
			s.logger.WithError(err).WithField("session_id", ids[i]).Warn("skipping undecodable session")
			stale = append(stale, ids[i])
			continue
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: prune session index: %w", domain.ErrPersistenceFailure, err)
		}
	}
	return sessions, nil
}

func (s *SessionStore) sessionKey(id string) string {
	return s.prefix + sessionKeyPrefix + id
}

func (s *SessionStore) indexKey() string {
	return s.prefix + activityIndexKey
}

var _ domain.SessionStore = (*SessionStore)(nil)
