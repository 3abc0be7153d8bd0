// Package config resolves grit's repo-level and actor-level
// configuration. GRIT_ACTOR overrides the repo config.toml's
// default_actor; the actor's own config.toml records that actor's name
// and creation time and is not merged over the repo-level settings.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"

	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/paths"
)

// RepoConfig is the repo-level <gritDir>/config.toml.
type RepoConfig struct {
	DefaultActor string         `toml:"default_actor"`
	Daemon       DaemonSettings `toml:"daemon"`
}

// ActorConfig is the per-actor <gritDir>/actors/<hex>/config.toml.
type ActorConfig struct {
	Name      string    `toml:"name"`
	CreatedAt time.Time `toml:"created_at"`
}

// LoadRepoConfig reads <gritDir>/config.toml. A missing file yields a
// zero-value RepoConfig rather than an error, since a freshly `grit init`'d
// repo without a default actor is a valid state.
func LoadRepoConfig(gritDir string) (*RepoConfig, error) {
	path := paths.RepoConfigPath(gritDir)
	var cfg RepoConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &RepoConfig{}, nil
		}
		return nil, fmt.Errorf("decode repo config: %w", err)
	}
	return &cfg, nil
}

// SaveRepoConfig writes cfg to <gritDir>/config.toml atomically.
func SaveRepoConfig(gritDir string, cfg *RepoConfig) error {
	if err := os.MkdirAll(gritDir, 0750); err != nil {
		return fmt.Errorf("create grit dir: %w", err)
	}
	return encodeAtomic(paths.RepoConfigPath(gritDir), cfg)
}

// LoadActorConfig reads <gritDir>/actors/<actorIDHex>/config.toml.
func LoadActorConfig(gritDir, actorIDHex string) (*ActorConfig, error) {
	path := paths.ActorConfigPath(gritDir, actorIDHex)
	var cfg ActorConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no config for actor %s: %w", actorIDHex, err)
		}
		return nil, fmt.Errorf("decode actor config: %w", err)
	}
	return &cfg, nil
}

// SaveActorConfig writes cfg to <gritDir>/actors/<actorIDHex>/config.toml,
// creating the actor's directory tree if needed.
func SaveActorConfig(gritDir, actorIDHex string, cfg *ActorConfig) error {
	dir := paths.ActorDir(gritDir, actorIDHex)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create actor dir: %w", err)
	}
	return encodeAtomic(paths.ActorConfigPath(gritDir, actorIDHex), cfg)
}

func encodeAtomic(path string, v any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("atomic replace: %w", err)
	}
	return nil
}

// ResolveActor determines the actor id a command should operate as, in
// priority order: GRIT_ACTOR env var, then the repo's default_actor.
// Returns an error if neither yields a usable actor.
func ResolveActor(gritDir string) (identity.ID, error) {
	if override := os.Getenv("GRIT_ACTOR"); override != "" {
		id, err := identity.ParseID(override)
		if err != nil {
			return identity.ID{}, fmt.Errorf("GRIT_ACTOR: %w", err)
		}
		return id, nil
	}
	repoCfg, err := LoadRepoConfig(gritDir)
	if err != nil {
		return identity.ID{}, err
	}
	if repoCfg.DefaultActor == "" {
		return identity.ID{}, fmt.Errorf("no default actor: set GRIT_ACTOR or run 'grit init' to create one")
	}
	return identity.ParseID(repoCfg.DefaultActor)
}

// CreateActor generates a new actor id, registers it as the default actor
// if the repo has none yet, and writes its config.toml with the given
// display name.
func CreateActor(gritDir, name string) (identity.ID, error) {
	if err := identity.ValidateActorName(name); err != nil {
		return identity.ID{}, err
	}
	id, err := identity.NewRandomID()
	if err != nil {
		return identity.ID{}, err
	}
	hex := id.String()
	if err := SaveActorConfig(gritDir, hex, &ActorConfig{Name: name, CreatedAt: time.Now().UTC()}); err != nil {
		return identity.ID{}, err
	}

	repoCfg, err := LoadRepoConfig(gritDir)
	if err != nil {
		return identity.ID{}, err
	}
	if repoCfg.DefaultActor == "" {
		repoCfg.DefaultActor = hex
		if err := SaveRepoConfig(gritDir, repoCfg); err != nil {
			return identity.ID{}, err
		}
	}
	return id, nil
}
