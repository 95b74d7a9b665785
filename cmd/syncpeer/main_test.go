package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/config"
)

func TestBuildStoreDrivers(t *testing.T) {
	ctx := context.Background()

	cfg := config.Defaults()
	store, pool, err := buildStore(ctx, cfg)
	require.NoError(t, err)
	require.Nil(t, pool)
	require.NoError(t, store.Close())

	cfg.StoreDriver = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "peer.db")
	store, pool, err = buildStore(ctx, cfg)
	require.NoError(t, err)
	require.Nil(t, pool)
	activities, err := store.LoadActivities(ctx)
	require.NoError(t, err)
	require.Empty(t, activities)
	require.NoError(t, store.Close())

	cfg.StoreDriver = "dgraph"
	_, _, err = buildStore(ctx, cfg)
	require.Error(t, err)
}

func TestBuildChannelRequiresATier(t *testing.T) {
	cfg := config.Defaults()
	cfg.CounterpartURL = ""
	_, err := buildChannel(cfg, nil)
	require.Error(t, err)

	cfg.CounterpartURL = "http://127.0.0.1:1"
	ch, err := buildChannel(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
}

func TestTokenCommandMintsParsableToken(t *testing.T) {
	t.Setenv("SYNC_CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("JWT_ISSUER", "activitysync.cli")

	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--subject", "wrist-1", "--role", "wrist", "--scopes", "peer:sync"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.Parse(strings.TrimSpace(out.String()), auth.Config{Secret: "cli-secret", Issuer: "activitysync.cli"})
	require.NoError(t, err)
	require.Equal(t, "wrist-1", claims.Subject)
	require.True(t, claims.HasScope(auth.ScopePeerSync))
	require.False(t, claims.HasScope(auth.ScopeRunControl))
}

func TestMigrateListDoesNotConnect(t *testing.T) {
	var out bytes.Buffer
	cmd := migrateCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--list"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "0001_init.up.sql")
	require.Contains(t, out.String(), "0002_context_mirror.up.sql")
	require.Contains(t, out.String(), "0003_context_mirror_cursor.up.sql")
	migrateList = false
}
