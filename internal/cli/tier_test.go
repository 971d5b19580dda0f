package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/access"
)

var tierNow = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func sessionToken(t *testing.T, claims access.SessionClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func runTierJSON(t *testing.T, opts *RootOptions, args ...string) TierReport {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTierCommand(opts)
	cmd.SetOut(buf)
	cmd.SetArgs(append([]string{"--at", tierNow.Format(time.RFC3339)}, args...))
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string     `json:"status"`
		Data   TierReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTier_FromToken(t *testing.T) {
	t.Setenv(EnvToken, "")
	premium := sessionToken(t, access.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(tierNow.Add(time.Hour)),
		},
		SubscriptionStatus: access.SubscriptionPremium,
		SubscriptionEndsAt: jwt.NewNumericDate(tierNow.Add(24 * time.Hour)),
	})
	lapsed := sessionToken(t, access.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-8",
			ExpiresAt: jwt.NewNumericDate(tierNow.Add(time.Hour)),
		},
		SubscriptionStatus: access.SubscriptionPremium,
		SubscriptionEndsAt: jwt.NewNumericDate(tierNow.Add(-time.Hour)),
	})
	expired := sessionToken(t, access.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-9",
			ExpiresAt: jwt.NewNumericDate(tierNow.Add(-time.Minute)),
		},
	})

	tests := []struct {
		name        string
		token       string
		wantTier    string
		wantRadius  float64
		wantExpired bool
		wantDenial  bool
	}{
		{name: "anonymous", token: "", wantTier: "unregistered", wantRadius: 25, wantDenial: true},
		{name: "premium", token: premium, wantTier: "premium", wantRadius: 500},
		{name: "lapsed premium", token: lapsed, wantTier: "registered", wantRadius: 100},
		{name: "expired session", token: expired, wantTier: "unregistered", wantRadius: 25, wantExpired: true, wantDenial: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runTierJSON(t, &RootOptions{Format: "json"}, "--token", tt.token)

			assert.Equal(t, tt.wantTier, r.Tier)
			assert.Equal(t, tt.wantRadius, r.Limits.MaxRadiusKm)
			assert.Equal(t, tt.wantExpired, r.SessionExpired)
			assert.Equal(t, tt.wantDenial, r.CreateDenial != "")
		})
	}
}

func TestTier_TokenFromEnvironment(t *testing.T) {
	t.Setenv(EnvToken, sessionToken(t, access.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-3"},
	}))

	r := runTierJSON(t, &RootOptions{Format: "json"})

	assert.Equal(t, "user-3", r.Subject)
	assert.True(t, r.Authenticated)
	assert.Equal(t, "registered", r.Tier)
}

func TestTier_ExplicitTierWithConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventsync.cue")
	require.NoError(t, os.WriteFile(path, []byte("tiers: premium: max_radius_km: 750\n"), 0o644))

	r := runTierJSON(t, &RootOptions{Format: "json", Config: path}, "--tier", "premium")

	assert.Equal(t, "premium", r.Tier)
	assert.Equal(t, 750.0, r.Limits.MaxRadiusKm)
	assert.True(t, r.Limits.HasFeature("analytics"))
}

func TestTier_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTierCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--tier", "unregistered"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "Tier: unregistered (anonymous)")
	assert.Contains(t, out, "radius:        25 km")
	assert.Contains(t, out, "Sign in to create and manage events.")
}

func TestTier_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"unknown tier", []string{"--tier", "gold"}, "E003"},
		{"bad time", []string{"--tier", "premium", "--at", "yesterday"}, "E003"},
		{"garbage token", []string{"--token", "not-a-jwt"}, "E008"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewTierCommand(&RootOptions{Format: "text"})
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, buf.String(), "Error ["+tt.wantCode+"]")
		})
	}
}
