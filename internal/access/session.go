package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSessionExpired is returned by ParseSession for a token past its expiry.
var ErrSessionExpired = errors.New("session expired")

// SessionClaims are the claims carried by the backend's access token.
type SessionClaims struct {
	jwt.RegisteredClaims
	SubscriptionStatus string           `json:"subscription_status,omitempty"`
	SubscriptionEndsAt *jwt.NumericDate `json:"subscription_ends_at,omitempty"`
	AutoRenew          bool             `json:"auto_renew,omitempty"`
}

// ParseSession reads an access token into an Actor.
//
// The client cannot verify the signature (it does not hold the key); the
// remote store does that on every call. Here the token only tells us who is
// signed in and what subscription they had when it was issued. An empty token
// is the anonymous actor. An expired token yields an unauthenticated actor
// that still carries the subject, together with ErrSessionExpired.
func ParseSession(token string, now time.Time) (Actor, error) {
	if token == "" {
		return Anonymous, nil
	}

	claims := &SessionClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Anonymous, fmt.Errorf("parse session token: %w", err)
	}
	if claims.Subject == "" {
		return Anonymous, fmt.Errorf("parse session token: missing subject")
	}

	actor := Actor{ID: claims.Subject, Authenticated: true}
	if claims.SubscriptionStatus != "" {
		sub := &Subscription{Status: claims.SubscriptionStatus, AutoRenew: claims.AutoRenew}
		if claims.SubscriptionEndsAt != nil {
			ends := claims.SubscriptionEndsAt.Time
			sub.EndsAt = &ends
		}
		actor.Subscription = sub
	}

	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		actor.Authenticated = false
		return actor, ErrSessionExpired
	}
	return actor, nil
}
