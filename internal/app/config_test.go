package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/agentbridge/internal/tokenstore"
)

func noEnv() []string {
	return nil
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", noEnv)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, EngineTypeLocal, cfg.Engine.Type)
	assert.Equal(t, "agent", cfg.Engine.Command)
	assert.Equal(t, TokenStorageTypeEnv, cfg.Auth.Storage)
	assert.False(t, cfg.Server.EnableCORS)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = "127.0.0.1:9100"
enable_cors = true

[session]
ttl = "30m"

[engine]
type = "remote"
url = "http://127.0.0.1:7777"

[auth]
storage = "keyring"
keyring_service = "bridge-test"

[tools]
extra = ["deploy_service"]
`), 0o600))

	cfg, err := LoadConfig(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, EngineTypeRemote, cfg.Engine.Type)
	assert.Equal(t, "http://127.0.0.1:7777", cfg.Engine.URL)
	assert.Equal(t, TokenStorageTypeKeyring, cfg.Auth.Storage)
	assert.Equal(t, "bridge-test", cfg.Auth.KeyringService)
	assert.Equal(t, []string{"deploy_service"}, cfg.Tools.Extra)

	// Defaults the file does not touch survive.
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), noEnv)
	require.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	environ := func() []string {
		return []string{
			"AGENTBRIDGE_SERVER__ADDR=127.0.0.1:9200",
			"AGENTBRIDGE_SESSION__SWEEP_INTERVAL=90s",
			"AGENTBRIDGE_ENGINE__COMMAND=/usr/local/bin/agent",
			"UNRELATED_VAR=ignored",
		}
	}

	cfg, err := LoadConfig("", environ)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9200", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, "/usr/local/bin/agent", cfg.Engine.Command)
}

func TestLoadConfigEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\naddr = \"127.0.0.1:9100\"\n"), 0o600))

	environ := func() []string {
		return []string{"AGENTBRIDGE_SERVER__ADDR=127.0.0.1:9300"}
	}

	cfg, err := LoadConfig(path, environ)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9300", cfg.Server.Addr)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		wantErr string
	}{
		{
			name:    "unknown engine type",
			environ: []string{"AGENTBRIDGE_ENGINE__TYPE=cloud"},
			wantErr: "unknown engine type",
		},
		{
			name:    "remote engine without url",
			environ: []string{"AGENTBRIDGE_ENGINE__TYPE=remote"},
			wantErr: "engine.url is required",
		},
		{
			name:    "negative ttl",
			environ: []string{"AGENTBRIDGE_SESSION__TTL=-1h"},
			wantErr: "session.ttl",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig("", func() []string { return tc.environ })
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewTokenStoreEnv(t *testing.T) {
	store, err := AuthConfig{Storage: TokenStorageTypeEnv}.NewTokenStore()
	require.NoError(t, err)

	t.Setenv(defaultTokenEnvVar, "sk-engine-1")
	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-engine-1", got)
}

func TestNewTokenStoreEnvCustomVar(t *testing.T) {
	store, err := AuthConfig{Storage: TokenStorageTypeEnv, EnvVar: "BRIDGE_TOKEN"}.NewTokenStore()
	require.NoError(t, err)

	t.Setenv("BRIDGE_TOKEN", "sk-engine-2")
	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-engine-2", got)
}

func TestNewTokenStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store, err := AuthConfig{Storage: TokenStorageTypeFile, File: path}.NewTokenStore()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "sk-engine-3"))
	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-engine-3", got)
}

func TestNewTokenStoreKeyring(t *testing.T) {
	store, err := AuthConfig{Storage: TokenStorageTypeKeyring, KeyringService: "svc"}.NewTokenStore()
	require.NoError(t, err)
	assert.IsType(t, &tokenstore.Keyring{}, store)
}

func TestNewTokenStoreRejectsNoneAndUnknown(t *testing.T) {
	_, err := AuthConfig{Storage: TokenStorageTypeNone}.NewTokenStore()
	require.Error(t, err)

	_, err = AuthConfig{Storage: "vault"}.NewTokenStore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault")
}
