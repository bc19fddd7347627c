package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPNotFound         = errors.New("otp record not found")
	ErrOTPInvalidCode      = errors.New("otp code invalid")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

const (
	DefaultVerifyTTL    = 24 * time.Hour
	DefaultResetTTL     = time.Hour
	DefaultVerifyLength = 8
	DefaultResetBytes   = 15

	resetNamespace = "reset:"
	scanBatch      = 1000
)

// Policy binds a key namespace, a lifetime and a code generator.
type Policy struct {
	Name      string
	Namespace string
	TTL       time.Duration
	generate  func() (string, error)
}

type OTPConfig struct {
	// HashKeys stores sha256(code) instead of the code in the key.
	HashKeys     bool
	VerifyTTL    time.Duration
	ResetTTL     time.Duration
	VerifyLength int
	ResetBytes   int
}

// OTPStore keeps one-time codes as plain Redis strings whose value is the
// target email address.
type OTPStore struct {
	redis  redis.UniversalClient
	config OTPConfig
}

func NewOTPStore(redisClient redis.UniversalClient, cfg OTPConfig) *OTPStore {
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = DefaultVerifyTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.VerifyLength <= 0 {
		cfg.VerifyLength = DefaultVerifyLength
	}
	if cfg.ResetBytes <= 0 {
		cfg.ResetBytes = DefaultResetBytes
	}
	return &OTPStore{
		redis:  redisClient,
		config: cfg,
	}
}

// EmailVerify returns the per-user verification policy.
func (s *OTPStore) EmailVerify(userID string) Policy {
	length := s.config.VerifyLength
	return Policy{
		Name:      "email_verify",
		Namespace: "user:" + userID + ":email:",
		TTL:       s.config.VerifyTTL,
		generate: func() (string, error) {
			return internal.NewCode(internal.CodeAlphabet, length)
		},
	}
}

// PasswordReset returns the global reset policy.
func (s *OTPStore) PasswordReset() Policy {
	size := s.config.ResetBytes
	return Policy{
		Name:      "password_reset",
		Namespace: resetNamespace,
		TTL:       s.config.ResetTTL,
		generate: func() (string, error) {
			return internal.NewBase32Secret(size)
		},
	}
}

// HashesKeys reports whether codes are hashed before being used as keys.
func (s *OTPStore) HashesKeys() bool {
	return s.config.HashKeys
}

func (s *OTPStore) key(p Policy, code string) string {
	if s.config.HashKeys {
		return p.Namespace + internal.HashCode(code)
	}
	return p.Namespace + code
}

// Generate returns a fresh code for p.
func (s *OTPStore) Generate(p Policy) (string, error) {
	if p.generate == nil {
		return "", errors.New("otp policy has no generator")
	}
	return p.generate()
}

// Store writes code -> target with the policy TTL.
func (s *OTPStore) Store(ctx context.Context, p Policy, code, target string) error {
	if code == "" {
		return ErrOTPInvalidCode
	}
	if err := s.redis.Set(ctx, s.key(p, code), target, p.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// Consume atomically reads and deletes the record for code. Two concurrent
// consumers of the same code cannot both succeed.
//
//	Performance: 1 Redis GETDEL.
func (s *OTPStore) Consume(ctx context.Context, p Policy, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrOTPNotFound
	}

	target, err := s.redis.GetDel(ctx, s.key(p, code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrOTPNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return target, nil
}

// ListOutstanding returns the key suffixes in p's namespace whose value is
// target. The suffix is the code itself unless keys are hashed.
//
//	Performance: SCAN pages + 1 pipelined GET batch. Only use on
//	per-user namespaces.
func (s *OTPStore) ListOutstanding(ctx context.Context, p Policy, target string) ([]string, error) {
	if p.Namespace == resetNamespace {
		return nil, errors.New("otp listing is not supported for the global namespace")
	}

	var (
		cursor uint64
		keys   []string
	)
	for {
		page, next, err := s.redis.Scan(ctx, cursor, p.Namespace+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return []string{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}

	suffixes := make([]string, 0, len(keys))
	for i, cmd := range cmds {
		value, err := cmd.Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
		if value == target {
			suffixes = append(suffixes, strings.TrimPrefix(keys[i], p.Namespace))
		}
	}
	return suffixes, nil
}

// Discard deletes records by key suffix as returned from ListOutstanding.
func (s *OTPStore) Discard(ctx context.Context, p Policy, suffixes ...string) error {
	if len(suffixes) == 0 {
		return nil
	}
	keys := make([]string, len(suffixes))
	for i, suffix := range suffixes {
		keys[i] = p.Namespace + suffix
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}
