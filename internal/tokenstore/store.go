// Package tokenstore persists the API token the bridge presents to a remote
// engine daemon. Storage backends share one contract: writing an empty
// token clears the stored credential, and reading an absent credential
// returns an empty token without error.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// Store reads and writes the engine API token.
type Store interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, token string) error
}

// Env reads the token from an environment variable. It is read-only;
// writes fail so callers can surface a clear configuration error instead
// of silently dropping credentials.
type Env struct {
	Var string
}

var _ Store = (*Env)(nil)

func NewEnv(envVar string) *Env {
	return &Env{Var: envVar}
}

func (e *Env) Read(_ context.Context) (string, error) {
	return os.Getenv(e.Var), nil
}

func (e *Env) Write(_ context.Context, _ string) error {
	return fmt.Errorf("env token storage is read-only, set %s instead", e.Var)
}

// fileToken is the on-disk layout of a stored token.
type fileToken struct {
	Token string `json:"token"`
}

// File stores the token as a JSON file with owner-only permissions.
type File struct {
	Path string
}

var _ Store = (*File)(nil)

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Read(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	var stored fileToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", fmt.Errorf("parsing token file %s: %w", f.Path, err)
	}
	return stored.Token, nil
}

func (f *File) Write(_ context.Context, token string) error {
	if token == "" {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing token file: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(fileToken{Token: token})
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// keyringUser is the account name tokens are filed under in the OS keyring.
const keyringUser = "engine-token"

// Keyring stores the token in the operating system keyring.
type Keyring struct {
	Service string
}

var _ Store = (*Keyring)(nil)

func NewKeyring(service string) *Keyring {
	return &Keyring{Service: service}
}

func (k *Keyring) Read(_ context.Context) (string, error) {
	token, err := keyring.Get(k.Service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token from keyring: %w", err)
	}
	return token, nil
}

func (k *Keyring) Write(_ context.Context, token string) error {
	if token == "" {
		if err := keyring.Delete(k.Service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("clearing token from keyring: %w", err)
		}
		return nil
	}
	if err := keyring.Set(k.Service, keyringUser, token); err != nil {
		return fmt.Errorf("writing token to keyring: %w", err)
	}
	return nil
}
