package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/personapack/botsuite/internal/store"
)

// Gate answers whether a user may use a target bot. Configured
// administrators pass unconditionally for every target.
type Gate struct {
	grants store.GrantStore
	tokens *Service
	admins map[int64]bool
}

// NewGate creates a gate over the grant table.
func NewGate(s store.Store, tokens *Service, adminIDs []int64) *Gate {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Gate{grants: s, tokens: tokens, admins: admins}
}

// IsAdmin reports whether owner bypasses the gate.
func (g *Gate) IsAdmin(owner int64) bool {
	return g.admins[owner]
}

// IsAllowed reports whether owner holds a grant for target.
func (g *Gate) IsAllowed(ctx context.Context, owner int64, target string) (bool, error) {
	if g.admins[owner] {
		return true, nil
	}
	ok, err := g.grants.HasGrant(ctx, owner, target)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return ok, nil
}

// Check returns ErrAccessDenied when owner may not use target.
func (g *Gate) Check(ctx context.Context, owner int64, target string) error {
	ok, err := g.IsAllowed(ctx, owner, target)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

// Enter handles the bootstrap command: a non-empty token is redeemed first,
// then the gate is checked. A stale link from a user who already holds the
// grant is not an error. A token for a sibling bot still grants that bot
// but does not open this one.
func (g *Gate) Enter(ctx context.Context, owner int64, target, token string) error {
	token = strings.TrimSpace(token)
	if token == "" || g.admins[owner] {
		return g.Check(ctx, owner, target)
	}

	if _, err := g.tokens.Redeem(ctx, token, owner); err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			ok, gerr := g.IsAllowed(ctx, owner, target)
			if gerr != nil {
				return gerr
			}
			if ok {
				return nil
			}
		}
		return err
	}
	return g.Check(ctx, owner, target)
}
