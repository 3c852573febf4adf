// AngelaMos | 2026
// store.go

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelamos/basecamp/internal/core"
)

const sessionKeyPrefix = "session:"

// ErrMismatch is returned when a request's fingerprint falls outside the
// policy's tolerance; the session has already been invalidated by then.
var ErrMismatch = errors.New("session fingerprint mismatch")

// Session is the server-side state of a legacy cookie session.
type Session struct {
	ID          string      `json:"-"`
	UserID      string      `json:"user_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

type Config struct {
	TTL              time.Duration
	RotationInterval time.Duration
}

// Store keeps legacy sessions in redis, shared with the application that
// still issues the cookies.
type Store struct {
	redis  *redis.Client
	cfg    Config
	policy ComparePolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(
	redisClient *redis.Client,
	cfg Config,
	policy ComparePolicy,
	logger *slog.Logger,
) *Store {
	return &Store{
		redis:  redisClient,
		cfg:    cfg,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get session: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	sess.ID = sessionID
	return &sess, nil
}

func (s *Store) Create(
	ctx context.Context,
	userID string,
	fp Fingerprint,
) (*Session, error) {
	id, err := core.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	now := s.now()
	fp.CreatedAt = now
	fp.LastRotatedAt = now

	sess := &Session{
		ID:          id,
		UserID:      userID,
		Fingerprint: fp,
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// Validate checks the request fingerprint against the session's recorded
// one. The first request of a session records the fingerprint instead of
// comparing. A mismatch beyond policy tolerance destroys the session and
// forces re-authentication.
func (s *Store) Validate(
	ctx context.Context,
	sess *Session,
	current Fingerprint,
) error {
	if sess.Fingerprint.IsZero() {
		now := s.now()
		current.CreatedAt = now
		current.LastRotatedAt = now
		sess.Fingerprint = current
		return s.save(ctx, sess)
	}

	if s.policy.Match(sess.Fingerprint, current) {
		return nil
	}

	s.logger.Warn("session fingerprint mismatch, session invalidated",
		"user_id", sess.UserID,
		"policy", s.policy.Name(),
	)

	if err := s.Invalidate(ctx, sess.ID); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}

	return ErrMismatch
}

// RotateIfDue regenerates the session identifier once the rotation interval
// has elapsed, preserving identity and fingerprint metadata. Returns the
// (possibly unchanged) session and whether rotation happened.
func (s *Store) RotateIfDue(
	ctx context.Context,
	sess *Session,
) (*Session, bool, error) {
	if s.now().Sub(sess.Fingerprint.LastRotatedAt) < s.cfg.RotationInterval {
		return sess, false, nil
	}

	newID, err := core.GenerateOpaqueToken()
	if err != nil {
		return nil, false, fmt.Errorf("generate session id: %w", err)
	}

	oldID := sess.ID
	sess.ID = newID
	sess.Fingerprint.LastRotatedAt = s.now()

	if err := s.save(ctx, sess); err != nil {
		return nil, false, err
	}

	if err := s.redis.Del(ctx, sessionKeyPrefix+oldID).Err(); err != nil {
		s.logger.Warn("failed to delete rotated session",
			"error", err,
		)
	}

	return sess, true, nil
}

func (s *Store) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	key := sessionKeyPrefix + sess.ID
	if err := s.redis.Set(ctx, key, data, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	return nil
}
