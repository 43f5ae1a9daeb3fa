// Package redisstore keeps refresh-token sessions in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"therapyhub.io/shared/pg/model"
)

const (
	fieldPrincipalType = "principal_type"
	fieldPrincipalID   = "principal_id"
	fieldExpiresAt     = "expires_at"
	fieldRevokedAt     = "revoked_at"
	fieldCreatedAt     = "created_at"

	defaultRetention = 30 * 24 * time.Hour
	maxTxRetries     = 3
)

var _ model.SessionStore = (*Store)(nil)

// Store implements model.SessionStore. Each token is a hash that outlives its
// expiry by the retention period; revoked tokens stay until then. A set per
// principal indexes its tokens for RevokeAllTokens and expires with the last
// of them.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithRetention sets how long a record is kept after it expires.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.retention = d
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "auth:", retention: defaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL and verifies the server answers.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) tokenKey(token string) string {
	return s.prefix + "refresh:" + token
}

func (s *Store) principalKey(t model.AccountType, id string) string {
	return s.prefix + "refresh:principal:" + string(t) + ":" + id
}

func (s *Store) StoreToken(ctx context.Context, tok *model.IssuedToken) error {
	key := s.tokenKey(tok.Token)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return model.ErrConflict
		}
		indexUntil, err := s.indexDeadline(ctx, tx, tok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueInsert(ctx, pipe, tok, indexUntil)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone wrote the same key between WATCH and EXEC.
		return model.ErrConflict
	}
	return err
}

// indexDeadline returns when the principal index may expire once tok is added.
// It never moves an existing deadline earlier.
func (s *Store) indexDeadline(ctx context.Context, tx *redis.Tx, tok *model.IssuedToken) (time.Time, error) {
	deadline := tok.ExpiresAt.Add(s.retention)
	ttl, err := tx.PTTL(ctx, s.principalKey(tok.PrincipalType, tok.PrincipalID)).Result()
	if err != nil {
		return time.Time{}, err
	}
	// PTTL reports -1 without an expiry and -2 for a missing key.
	if ttl > 0 {
		if current := time.Now().Add(ttl); current.After(deadline) {
			return current, nil
		}
	}
	return deadline, nil
}

func (s *Store) queueInsert(ctx context.Context, pipe redis.Pipeliner, tok *model.IssuedToken, indexUntil time.Time) {
	key := s.tokenKey(tok.Token)
	pipe.HSet(ctx, key,
		fieldPrincipalType, string(tok.PrincipalType),
		fieldPrincipalID, tok.PrincipalID,
		fieldExpiresAt, formatTime(tok.ExpiresAt),
		fieldCreatedAt, formatTime(tok.CreatedAt),
	)
	pipe.ExpireAt(ctx, key, tok.ExpiresAt.Add(s.retention))
	index := s.principalKey(tok.PrincipalType, tok.PrincipalID)
	pipe.SAdd(ctx, index, tok.Token)
	pipe.ExpireAt(ctx, index, indexUntil)
}

func (s *Store) FindToken(ctx context.Context, token string) (*model.IssuedToken, error) {
	fields, err := s.client.HGetAll(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return decodeToken(token, fields)
}

func decodeToken(token string, fields map[string]string) (*model.IssuedToken, error) {
	if len(fields) == 0 {
		return nil, model.ErrNotFound
	}
	expiresAt, err := parseTime(fields[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	createdAt, err := parseTime(fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	tok := &model.IssuedToken{
		Token:         token,
		PrincipalType: model.AccountType(fields[fieldPrincipalType]),
		PrincipalID:   fields[fieldPrincipalID],
		ExpiresAt:     expiresAt,
		CreatedAt:     createdAt,
	}
	if raw, ok := fields[fieldRevokedAt]; ok && raw != "" {
		revokedAt, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("decode revoked_at: %w", err)
		}
		tok.RevokedAt = &revokedAt
	}
	return tok, nil
}

func (s *Store) RevokeToken(ctx context.Context, token string, at time.Time) error {
	_, err := s.revoke(ctx, token, at)
	return err
}

// revoke reports whether this call changed the record.
func (s *Store) revoke(ctx context.Context, token string, at time.Time) (bool, error) {
	key := s.tokenKey(token)
	var changed bool
	fn := func(tx *redis.Tx) error {
		changed = false
		fields, err := tx.HMGet(ctx, key, fieldPrincipalID, fieldRevokedAt).Result()
		if err != nil {
			return err
		}
		if fields[0] == nil {
			return nil
		}
		if revoked, _ := fields[1].(string); revoked != "" {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldRevokedAt, formatTime(at))
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("revoke refresh token: %w", err)
		}
		return changed, nil
	}
	return false, fmt.Errorf("revoke refresh token: %w", redis.TxFailedErr)
}

// RevokeAllTokens revokes each indexed token in turn. Tokens whose records
// have expired out of Redis are dropped from the index.
func (s *Store) RevokeAllTokens(ctx context.Context, t model.AccountType, id string, at time.Time) (int64, error) {
	index := s.principalKey(t, id)
	tokens, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return 0, fmt.Errorf("list refresh tokens: %w", err)
	}

	var revoked int64
	var stale []interface{}
	for _, token := range tokens {
		n, err := s.client.Exists(ctx, s.tokenKey(token)).Result()
		if err != nil {
			return revoked, fmt.Errorf("revoke refresh tokens: %w", err)
		}
		if n == 0 {
			stale = append(stale, token)
			continue
		}
		changed, err := s.revoke(ctx, token, at)
		if err != nil {
			return revoked, err
		}
		if changed {
			revoked++
		}
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, index, stale...).Err(); err != nil {
			return revoked, fmt.Errorf("prune refresh token index: %w", err)
		}
	}
	return revoked, nil
}

func (s *Store) RotateToken(ctx context.Context, oldToken string, next *model.IssuedToken, at time.Time) error {
	oldKey := s.tokenKey(oldToken)
	newKey := s.tokenKey(next.Token)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, oldKey).Result()
		if err != nil {
			return err
		}
		old, err := decodeToken(oldToken, fields)
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrTokenUnusable
		}
		if err != nil {
			return err
		}
		if !old.Usable(at) {
			return model.ErrTokenUnusable
		}
		n, err := tx.Exists(ctx, newKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return model.ErrConflict
		}
		indexUntil, err := s.indexDeadline(ctx, tx, next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, oldKey, fieldRevokedAt, formatTime(at))
			s.queueInsert(ctx, pipe, next, indexUntil)
			return nil
		})
		return err
	}, oldKey, newKey)
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent rotation or revocation touched the old token first.
		return model.ErrTokenUnusable
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
