package config_test

import (
	"path/filepath"
	"testing"

	"github.com/leonletto/grit/internal/config"
	"github.com/leonletto/grit/internal/identity"
)

func TestSaveAndLoadRepoConfig(t *testing.T) {
	gritDir := t.TempDir()

	id, err := identity.NewRandomID()
	if err != nil {
		t.Fatalf("NewRandomID: %v", err)
	}

	if err := config.SaveRepoConfig(gritDir, &config.RepoConfig{DefaultActor: id.String()}); err != nil {
		t.Fatalf("SaveRepoConfig: %v", err)
	}

	cfg, err := config.LoadRepoConfig(gritDir)
	if err != nil {
		t.Fatalf("LoadRepoConfig: %v", err)
	}
	if cfg.DefaultActor != id.String() {
		t.Errorf("DefaultActor = %q, want %q", cfg.DefaultActor, id.String())
	}
}

func TestLoadRepoConfig_MissingFileReturnsZeroValue(t *testing.T) {
	gritDir := t.TempDir()

	cfg, err := config.LoadRepoConfig(gritDir)
	if err != nil {
		t.Fatalf("LoadRepoConfig: %v", err)
	}
	if cfg.DefaultActor != "" {
		t.Errorf("expected empty DefaultActor, got %q", cfg.DefaultActor)
	}
}

func TestSaveAndLoadActorConfig(t *testing.T) {
	gritDir := t.TempDir()
	actor := "deadbeefdeadbeefdeadbeefdeadbeef"

	if err := config.SaveActorConfig(gritDir, actor, &config.ActorConfig{Name: "furiosa"}); err != nil {
		t.Fatalf("SaveActorConfig: %v", err)
	}

	cfg, err := config.LoadActorConfig(gritDir, actor)
	if err != nil {
		t.Fatalf("LoadActorConfig: %v", err)
	}
	if cfg.Name != "furiosa" {
		t.Errorf("Name = %q, want furiosa", cfg.Name)
	}

	if _, err := filepath.Abs(gritDir); err != nil {
		t.Fatal(err)
	}
}

func TestLoadActorConfig_MissingIsError(t *testing.T) {
	gritDir := t.TempDir()
	if _, err := config.LoadActorConfig(gritDir, "deadbeefdeadbeefdeadbeefdeadbeef"); err == nil {
		t.Fatal("expected error for missing actor config")
	}
}

func TestCreateActor_SetsDefaultActorWhenNoneRegistered(t *testing.T) {
	gritDir := t.TempDir()

	id, err := config.CreateActor(gritDir, "nux")
	if err != nil {
		t.Fatalf("CreateActor: %v", err)
	}

	repoCfg, err := config.LoadRepoConfig(gritDir)
	if err != nil {
		t.Fatalf("LoadRepoConfig: %v", err)
	}
	if repoCfg.DefaultActor != id.String() {
		t.Errorf("DefaultActor = %q, want %q", repoCfg.DefaultActor, id.String())
	}

	actorCfg, err := config.LoadActorConfig(gritDir, id.String())
	if err != nil {
		t.Fatalf("LoadActorConfig: %v", err)
	}
	if actorCfg.Name != "nux" {
		t.Errorf("Name = %q, want nux", actorCfg.Name)
	}
}

func TestCreateActor_DoesNotOverrideExistingDefault(t *testing.T) {
	gritDir := t.TempDir()

	first, err := config.CreateActor(gritDir, "furiosa")
	if err != nil {
		t.Fatalf("CreateActor: %v", err)
	}
	if _, err := config.CreateActor(gritDir, "nux"); err != nil {
		t.Fatalf("CreateActor second: %v", err)
	}

	repoCfg, err := config.LoadRepoConfig(gritDir)
	if err != nil {
		t.Fatalf("LoadRepoConfig: %v", err)
	}
	if repoCfg.DefaultActor != first.String() {
		t.Errorf("DefaultActor changed to %q, want first actor %q", repoCfg.DefaultActor, first.String())
	}
}

func TestCreateActor_InvalidNameRejected(t *testing.T) {
	gritDir := t.TempDir()
	if _, err := config.CreateActor(gritDir, "Invalid-Name"); err == nil {
		t.Fatal("expected error for invalid actor name")
	}
}

func TestResolveActor_EnvOverride(t *testing.T) {
	gritDir := t.TempDir()
	id, err := identity.NewRandomID()
	if err != nil {
		t.Fatalf("NewRandomID: %v", err)
	}
	t.Setenv("GRIT_ACTOR", id.String())

	got, err := config.ResolveActor(gritDir)
	if err != nil {
		t.Fatalf("ResolveActor: %v", err)
	}
	if got != id {
		t.Errorf("ResolveActor = %s, want %s", got, id)
	}
}

func TestResolveActor_FallsBackToDefaultActor(t *testing.T) {
	gritDir := t.TempDir()
	id, err := config.CreateActor(gritDir, "furiosa")
	if err != nil {
		t.Fatalf("CreateActor: %v", err)
	}

	got, err := config.ResolveActor(gritDir)
	if err != nil {
		t.Fatalf("ResolveActor: %v", err)
	}
	if got != id {
		t.Errorf("ResolveActor = %s, want %s", got, id)
	}
}

func TestResolveActor_ErrorsWithNoDefaultActor(t *testing.T) {
	gritDir := t.TempDir()
	if _, err := config.ResolveActor(gritDir); err == nil {
		t.Fatal("expected error when no default actor is configured")
	}
}
