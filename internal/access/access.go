// Package access implements the capability-token store and the access gate.
//
// A capability token is a single-use, optionally time-limited credential
// bound to one user and one target bot. Redeeming it converts it into a
// permanent access grant in the same transaction that deletes the token.
package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

const (
	tokenBytes       = 16
	maxIssueAttempts = 5
)

var (
	// ErrAccessDenied means the user holds no grant for the target.
	ErrAccessDenied = errors.New("access denied")

	// ErrTokenInvalid is the parent of every redemption failure.
	ErrTokenInvalid  = errors.New("token invalid")
	ErrTokenNotFound = fmt.Errorf("%w: not found", ErrTokenInvalid)
	ErrWrongOwner    = fmt.Errorf("%w: bound to another user", ErrTokenInvalid)
	ErrTokenExpired  = fmt.Errorf("%w: expired", ErrTokenInvalid)
)

// GrantResult describes a successful redemption.
type GrantResult struct {
	Owner  int64
	Target string
}

// Service issues and redeems capability tokens.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a token service backed by s.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// WithClock overrides the time source. Used by tests and tools.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue mints a token for owner and target in its own transaction.
// A ttl of zero or less produces a token that never expires.
func (s *Service) Issue(ctx context.Context, owner int64, target string, ttl time.Duration) (*models.CapabilityToken, error) {
	var tok *models.CapabilityToken
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		tok, err = s.IssueTx(ctx, q, owner, target, ttl, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// IssueTx mints a token inside the caller's transaction. orderID links the
// token to the order that paid for it, if any.
func (s *Service) IssueTx(ctx context.Context, q store.Queries, owner int64, target string, ttl time.Duration, orderID *int64) (*models.CapabilityToken, error) {
	if target == "" {
		return nil, fmt.Errorf("issue token: target is required")
	}
	now := s.now().UTC()
	tok := &models.CapabilityToken{
		Target:    target,
		Owner:     owner,
		OrderID:   orderID,
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		tok.ExpiresAt = &exp
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		value, err := newToken()
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		tok.Token = value
		err = q.InsertToken(ctx, tok)
		if err == nil {
			log.Info().
				Int64("user_id", owner).
				Str("target", target).
				Str("token", tok.Short()).
				Msg("🎟️ Capability token issued")
			return tok, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		log.Warn().Int("attempt", attempt).Msg("Token collision, regenerating")
	}
	return nil, fmt.Errorf("issue token: %d collisions in a row", maxIssueAttempts)
}

// Redeem consumes token on behalf of owner and records an access grant.
// The grant insert and the token delete commit together or not at all.
func (s *Service) Redeem(ctx context.Context, token string, owner int64) (*GrantResult, error) {
	var result *GrantResult
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		tok, err := q.GetToken(ctx, token)
		if store.IsNotFound(err) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if tok.Owner != owner {
			return ErrWrongOwner
		}
		now := s.now().UTC()
		if tok.Expired(now) {
			// Left in place; the retention janitor purges it.
			return ErrTokenExpired
		}

		if err := q.InsertGrant(ctx, &models.AccessGrant{Owner: owner, Target: tok.Target, GrantedAt: now}); err != nil {
			return err
		}
		deleted, err := q.DeleteToken(ctx, token)
		if err != nil {
			return err
		}
		if !deleted {
			// Consumed concurrently; the rollback drops our grant insert.
			return ErrTokenNotFound
		}
		result = &GrantResult{Owner: owner, Target: tok.Target}
		return nil
	})
	if err != nil {
		log.Info().
			Err(err).
			Int64("user_id", owner).
			Str("token", models.ShortToken(token)).
			Msg("Token redemption refused")
		return nil, err
	}

	log.Info().Int64("user_id", owner).Str("target", result.Target).Msg("✅ Token redeemed, access granted")
	return result, nil
}

// PurgeExpired deletes tokens past their expiry and returns how many went.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredTokens(ctx, s.now().UTC())
}

// newToken returns 16 random bytes, URL-safe base64 without padding.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
