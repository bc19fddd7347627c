package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotAuthenticated is returned when the session record is absent.
var ErrNotAuthenticated = errors.New("session not found")

// ErrRefreshReuse is returned when a presented refresh token is not the one
// currently stored for the session. The session is revoked before returning.
var ErrRefreshReuse = errors.New("refresh token reuse detected")

// ErrSessionCorrupt is returned when a stored record cannot be decoded.
var ErrSessionCorrupt = errors.New("session record corrupt")

// ErrInvalidSession is returned for a session with an empty or unsafe address.
var ErrInvalidSession = errors.New("invalid session address")

// ErrRotateContention is returned when concurrent writers keep invalidating
// the optimistic rotate transaction.
var ErrRotateContention = errors.New("session rotate contention")

const (
	defaultPrefix    = "user"
	sessionSegment   = "session_id"
	scanBatch        = 1000
	maxRotateRetries = 4
)

// Store is a Redis-backed session store that writes records, lists them per
// user and rotates refresh tokens with compare-and-swap semantics.
type Store struct {
	redis  redis.UniversalClient
	tokens *jwt.Manager
	prefix string
}

// NewStore creates a session [Store]. Records expire with the refresh token
// lifetime configured on tokens. An empty prefix defaults to "user".
func NewStore(rdb redis.UniversalClient, tokens *jwt.Manager, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		redis:  rdb,
		tokens: tokens,
		prefix: prefix,
	}
}

func (s *Store) key(userID, sessionID string) string {
	return s.prefix + ":" + userID + ":" + sessionSegment + ":" + sessionID
}

func (s *Store) userPattern(userID string) string {
	return s.prefix + ":" + userID + ":" + sessionSegment + ":*"
}

// TTL returns the lifetime applied to session records.
func (s *Store) TTL() time.Duration {
	return s.tokens.RefreshTTL()
}

// Issue mints a token pair for sess and stores the record.
//
//	Performance: 1 MULTI/EXEC round trip (SET + EXPIRE).
func (s *Store) Issue(ctx context.Context, sess Session, meta Metadata, scope string) (Tokens, error) {
	tokens, data, err := s.mint(sess, meta, scope)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.write(ctx, s.redis, sess, data); err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return tokens, nil
}

// Renew behaves like Issue but keeps the session id. The stored record,
// including its refresh token, is replaced wholesale.
func (s *Store) Renew(ctx context.Context, sess Session, meta Metadata, scope string) (Tokens, error) {
	return s.Issue(ctx, sess, meta, scope)
}

// Rotate renews sess only if the stored refresh token equals presented.
// A missing record yields [ErrNotAuthenticated]. A mismatch deletes the
// session and yields [ErrRefreshReuse].
//
//	Performance: WATCH + GET + MULTI/EXEC, retried on contention.
func (s *Store) Rotate(ctx context.Context, sess Session, presented string, meta Metadata, scope string) (Tokens, error) {
	if err := sess.validate(); err != nil {
		return Tokens{}, err
	}
	key := s.key(sess.UserID, sess.SessionID)

	for i := 0; i < maxRotateRetries; i++ {
		var (
			issued Tokens
			reused bool
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			current, err := decode(raw)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare([]byte(current.RefreshToken), []byte(presented)) != 1 {
				reused = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			tokens, data, err := s.mint(sess, meta, scope)
			if err != nil {
				return err
			}
			if err := s.write(ctx, tx, sess, data); err != nil {
				return err
			}
			issued = tokens
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return Tokens{}, ErrNotAuthenticated
			case errors.Is(err, ErrSessionCorrupt), errors.Is(err, ErrRedisUnavailable):
				return Tokens{}, err
			default:
				return Tokens{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		if reused {
			return Tokens{}, ErrRefreshReuse
		}
		return issued, nil
	}

	return Tokens{}, ErrRotateContention
}

// Fetch returns the stored record for sess or [ErrNotAuthenticated].
//
//	Performance: 1 Redis GET.
func (s *Store) Fetch(ctx context.Context, sess Session) (*Data, error) {
	raw, err := s.redis.Get(ctx, s.key(sess.UserID, sess.SessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decode(raw)
}

// ListForUser returns every live session of userID. Records deleted between
// the scan and the read are omitted.
//
//	Performance: SCAN pages + 1 pipelined GET batch.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Data, error) {
	if !validID(userID) {
		return nil, ErrInvalidSession
	}
	keys, err := s.scan(ctx, s.userPattern(userID))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Data{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	_, err = pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]Data, 0, len(keys))
	for _, cmd := range cmds {
		raw, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		data, decErr := decode(raw)
		if decErr != nil {
			return nil, decErr
		}
		sessions = append(sessions, *data)
	}
	return sessions, nil
}

// Revoke deletes the session record. Revoking an absent session is a no-op.
func (s *Store) Revoke(ctx context.Context, sess Session) error {
	if err := sess.validate(); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, s.key(sess.UserID, sess.SessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every session of userID and returns how many were removed.
//
// This is not atomic: a session written after the scan survives until it
// expires or the next RevokeAll.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	if !validID(userID) {
		return 0, ErrInvalidSession
	}
	keys, err := s.scan(ctx, s.userPattern(userID))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(removed), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) mint(sess Session, meta Metadata, scope string) (Tokens, []byte, error) {
	if err := sess.validate(); err != nil {
		return Tokens{}, nil, err
	}

	access, accessExp, err := s.tokens.SignAccess(sess.UserID, sess.SessionID, scope)
	if err != nil {
		return Tokens{}, nil, err
	}
	refresh, refreshExp, err := s.tokens.SignRefresh(sess.UserID, sess.SessionID)
	if err != nil {
		return Tokens{}, nil, err
	}

	data, err := json.Marshal(Data{
		Metadata:     meta,
		SessionID:    sess.SessionID,
		RefreshToken: refresh,
	})
	if err != nil {
		return Tokens{}, nil, err
	}

	return Tokens{
		SessionID:        sess.SessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        s.tokens.AccessTTL(),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, data, nil
}

type txPipeliner interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// write stores data and its expiry in one transaction so a record never
// exists without a TTL. Errors are returned unwrapped so WATCH conflicts
// stay visible to Rotate.
func (s *Store) write(ctx context.Context, c txPipeliner, sess Session, data []byte) error {
	key := s.key(sess.UserID, sess.SessionID)
	_, err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.Expire(ctx, key, s.TTL())
		return nil
	})
	return err
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		page, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// validate rejects ids that would let one user's key pattern match another's.
func (sess Session) validate() error {
	if !validID(sess.UserID) || !validID(sess.SessionID) {
		return ErrInvalidSession
	}
	return nil
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ":*?[]\\")
}

func decode(raw []byte) (*Data, error) {
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return &data, nil
}
