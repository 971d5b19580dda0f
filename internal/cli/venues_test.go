package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/venue"
)

// seedDB writes docs into a fresh SQLite file and returns its path.
func seedDB(t *testing.T, docs map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventsync.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	for key, v := range docs {
		require.NoError(t, store.SaveJSON(ctx, st, key, v))
	}
	require.NoError(t, st.Close())
	return path
}

func venueRecords() []venue.Record {
	now := time.Now().UTC()
	return []venue.Record{
		{Name: "Kumu", Location: event.Coordinate{Lat: 59.4370, Lng: 24.7962}, UsageCount: 5, LastUsedAt: now.Add(-24 * time.Hour)},
		{Name: "Old Hall", Location: event.Coordinate{Lat: 59.4372, Lng: 24.7453}, UsageCount: 1, LastUsedAt: now.Add(-60 * 24 * time.Hour)},
		{Name: "Popular Barn", Location: event.Coordinate{Lat: 58.3780, Lng: 26.7290}, UsageCount: 9, LastUsedAt: now.Add(-90 * 24 * time.Hour)},
	}
}

func TestVenuesList(t *testing.T) {
	db := seedDB(t, map[string]any{engine.KeyVenues: venueRecords()})

	buf := &bytes.Buffer{}
	cmd := NewVenuesCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"list", "--db", db})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Data VenueList `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Count)
	assert.Equal(t, venue.Key("Kumu"), resp.Data.Venues[0].Key)
}

func TestVenuesList_EmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "fresh.db")

	buf := &bytes.Buffer{}
	cmd := NewVenuesCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"list", "--db", db})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "0 venue(s)\n", buf.String())
}

func TestVenuesEvict(t *testing.T) {
	db := seedDB(t, map[string]any{engine.KeyVenues: venueRecords()})

	buf := &bytes.Buffer{}
	cmd := NewVenuesCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"evict", "--db", db, "--stale-after", "720h", "--min-usage", "2"})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Data EvictionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, []string{venue.Key("Old Hall")}, resp.Data.Evicted, "stale and rarely used")
	assert.Equal(t, 2, resp.Data.Remaining)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	var stored []venue.Record
	found, err := store.LoadJSON(context.Background(), st, engine.KeyVenues, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, stored, 2, "eviction is written back")
}

func TestVenuesEvict_DryRun(t *testing.T) {
	db := seedDB(t, map[string]any{engine.KeyVenues: venueRecords()})

	buf := &bytes.Buffer{}
	cmd := NewVenuesCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"evict", "--db", db, "--dry-run"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Would evict 1 venue(s), 2 remaining")

	buf.Reset()
	list := NewVenuesCommand(&RootOptions{Format: "json"})
	list.SetOut(buf)
	list.SetArgs([]string{"list", "--db", db})
	require.NoError(t, list.Execute())
	var resp struct {
		Data VenueList `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Count, "dry run leaves the store untouched")
}

func TestVenues_NoDatabase(t *testing.T) {
	t.Setenv(EnvDB, "")

	buf := &bytes.Buffer{}
	cmd := NewVenuesCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"list"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E004]")
}

func TestState(t *testing.T) {
	creator := "user-1"
	db := seedDB(t, map[string]any{
		engine.KeyEvents: []event.Event{
			{ID: "a", Name: "Jazz night", CreatorID: &creator},
			{ID: "b", Name: "Morning yoga"},
		},
		engine.KeyMutations: map[string]any{
			"pending": []engine.Mutation{{ID: "m1", EventID: "a", Op: engine.OpUpdate, Seq: 2}},
			"parked": []engine.Mutation{{
				ID: "m0", EventID: "b", Op: engine.OpDelete, Seq: 1, Attempts: 5, LastError: "remote server error (503)",
			}},
			"read_only": false,
		},
	})

	buf := &bytes.Buffer{}
	cmd := NewStateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", db})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Data StateReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Events)
	require.Len(t, resp.Data.Pending, 1)
	assert.Equal(t, "m1", resp.Data.Pending[0].ID)
	require.Len(t, resp.Data.Parked, 1)
	assert.Equal(t, 5, resp.Data.Parked[0].Attempts)

	var keys []string
	for _, k := range resp.Data.Keys {
		keys = append(keys, k.Key)
		assert.Positive(t, k.Size)
	}
	assert.Equal(t, []string{engine.KeyEvents, engine.KeyMutations}, keys)
}

func TestState_Text(t *testing.T) {
	db := seedDB(t, map[string]any{engine.KeyEvents: []event.Event{{ID: "a", Name: "Jazz night"}}})

	buf := &bytes.Buffer{}
	cmd := NewStateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", db})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, buf.String(), "Events: 1  Pending: 0  Parked: 0  Read-only: false")
}
