package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DSN", "postgres://localhost/dm")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(":8080", cfg.Addr)
	req.Equal(DriverPostgres, cfg.StoreDriver)
	req.True(cfg.RequireAuthenticatedJoin)
	req.Equal(24*time.Hour, cfg.TokenTTL)
	req.Equal(256, cfg.SendBuffer)
	req.Empty(cfg.RedisAddr)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_DSN", "postgres://localhost/dm")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		StoreDriver:      DriverBadger,
		BadgerPath:       "data",
		SendBuffer:       1,
		PresenceShards:   1,
		MaxMessageLength: 1,
	}
	require.NoError(t, base.Validate())

	noDSN := base
	noDSN.StoreDriver = DriverPostgres
	require.ErrorIs(t, noDSN.Validate(), ErrInvalidConfig)

	unknown := base
	unknown.StoreDriver = "mongo"
	require.ErrorIs(t, unknown.Validate(), ErrInvalidConfig)

	noShards := base
	noShards.PresenceShards = 0
	require.ErrorIs(t, noShards.Validate(), ErrInvalidConfig)
}
