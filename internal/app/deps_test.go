package app

import (
	"context"
	"testing"

	"github.com/jddlt/sora2api/internal/auth"
	"github.com/jddlt/sora2api/internal/config"
)

func TestBuildEngineWiresComponents(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	engine, err := buildEngine(context.Background(), cfg, auth.NewMemoryStore(), nil, nil)
	if err != nil {
		t.Fatalf("buildEngine returned error: %v", err)
	}
	defer engine.Close(context.Background())

	if engine.Credentials == nil || engine.Client == nil || engine.Orchestrator == nil {
		t.Fatal("core components not wired")
	}
	if engine.Characters == nil || engine.Publisher == nil || engine.Profiles == nil {
		t.Fatal("workflows not wired")
	}
	if engine.Archiver != nil {
		t.Error("archiver should be disabled without a bucket")
	}
	if engine.Policy.MaxAttempts != cfg.SubmitMaxAttempts {
		t.Errorf("retry policy not taken from config: %+v", engine.Policy)
	}
}
