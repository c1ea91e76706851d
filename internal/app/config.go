package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/agentbridge/agentbridge/internal/tokenstore"
)

// envPrefix filters which environment variables feed the configuration.
// AGENTBRIDGE_SERVER__ADDR maps to server.addr.
const envPrefix = "AGENTBRIDGE_"

// EngineType selects which engine implementation the bridge talks to.
const (
	EngineTypeLocal  = "local"
	EngineTypeRemote = "remote"
)

// TokenStorageType identifies where the engine token is kept.
type TokenStorageType string

const (
	// TokenStorageTypeNone disables token handling entirely, for engine
	// daemons that do not require authentication.
	TokenStorageTypeNone TokenStorageType = "none"
	// TokenStorageTypeEnv reads the token from an environment variable.
	// Read-only: auth commands refuse to write to it.
	TokenStorageTypeEnv TokenStorageType = "env"
	// TokenStorageTypeFile keeps the token in a mode-0600 JSON file.
	TokenStorageTypeFile TokenStorageType = "file"
	// TokenStorageTypeKeyring stores the token in the OS keyring.
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// defaultTokenEnvVar is consulted when env storage is configured without an
// explicit variable name.
const defaultTokenEnvVar = "AGENTBRIDGE_ENGINE_TOKEN"

// Config is the full application configuration, merged from defaults, an
// optional TOML file, and AGENTBRIDGE_-prefixed environment variables.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Session SessionConfig `koanf:"session"`
	Engine  EngineConfig  `koanf:"engine"`
	Auth    AuthConfig    `koanf:"auth"`
	Tools   ToolsConfig   `koanf:"tools"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr             string `koanf:"addr"`
	RequestSizeLimit int64  `koanf:"request_size_limit"`
	EnableCORS       bool   `koanf:"enable_cors"`
}

// SessionConfig holds the session registry settings.
type SessionConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// EngineConfig selects and parameterizes the engine implementation.
// Command, Args, and Workdir apply to the local engine; URL to the remote
// one.
type EngineConfig struct {
	Type    string   `koanf:"type"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Workdir string   `koanf:"workdir"`
	URL     string   `koanf:"url"`
}

// AuthConfig configures engine token storage for the remote engine.
type AuthConfig struct {
	Storage        TokenStorageType `koanf:"storage"`
	EnvVar         string           `koanf:"env_var"`
	File           string           `koanf:"file"`
	KeyringService string           `koanf:"keyring_service"`
}

// ToolsConfig extends the set of tool names the bridge recognizes in
// assistant output beyond the built-in defaults.
type ToolsConfig struct {
	Extra []string `koanf:"extra"`
}

// NewTokenStore builds the token store the configuration names.
func (c AuthConfig) NewTokenStore() (tokenstore.Store, error) {
	switch c.Storage {
	case TokenStorageTypeEnv:
		envVar := c.EnvVar
		if envVar == "" {
			envVar = defaultTokenEnvVar
		}
		return tokenstore.NewEnv(envVar), nil

	case TokenStorageTypeFile:
		path := c.File
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("resolving default token path: %w", err)
			}
			path = filepath.Join(dir, "agentbridge", "token.json")
		}
		return tokenstore.NewFile(path), nil

	case TokenStorageTypeKeyring:
		service := c.KeyringService
		if service == "" {
			service = "agentbridge"
		}
		return tokenstore.NewKeyring(service), nil

	case TokenStorageTypeNone:
		return nil, fmt.Errorf("token storage is disabled (auth.storage = none)")

	default:
		return nil, fmt.Errorf("unknown token storage type %q (expected: none, env, file, keyring)", c.Storage)
	}
}

// defaults are the baseline every other configuration source merges over.
func defaults() map[string]any {
	return map[string]any{
		"server.addr":            "127.0.0.1:8080",
		"session.ttl":            "1h",
		"session.sweep_interval": "5m",
		"engine.type":            EngineTypeLocal,
		"engine.command":         "agent",
		"auth.storage":           string(TokenStorageTypeEnv),
	}
}

// LoadConfig merges defaults, the optional TOML file at path, and
// environment variables. environFunc supplies the environment, letting
// tests inject their own.
func LoadConfig(path string, environFunc func() []string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:      envPrefix,
		EnvironFunc: environFunc,
		TransformFunc: func(key, value string) (string, any) {
			// AGENTBRIDGE_SERVER__ADDR -> server.addr. Single underscores
			// stay, so key names like sweep_interval survive.
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			key = strings.ReplaceAll(key, "__", ".")
			return key, value
		},
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Engine.Type {
	case EngineTypeLocal:
		if c.Engine.Command == "" {
			return fmt.Errorf("engine.command is required for the local engine")
		}
	case EngineTypeRemote:
		if c.Engine.URL == "" {
			return fmt.Errorf("engine.url is required for the remote engine")
		}
	default:
		return fmt.Errorf("unknown engine type %q (expected: local, remote)", c.Engine.Type)
	}

	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must not be negative")
	}
	if c.Session.SweepInterval < 0 {
		return fmt.Errorf("session.sweep_interval must not be negative")
	}
	return nil
}
