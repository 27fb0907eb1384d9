package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DOC_ENGINE_ENV", "testing")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.AuthGrace.Seconds() != 5 {
		t.Errorf("AuthGrace = %v, want 5s", cfg.AuthGrace)
	}
	if cfg.HeartbeatMisses != 2 {
		t.Errorf("HeartbeatMisses = %d, want 2", cfg.HeartbeatMisses)
	}
	if cfg.UpdateThreshold != 50 {
		t.Errorf("UpdateThreshold = %d, want 50", cfg.UpdateThreshold)
	}
	if !cfg.PruneUpdatesOnSnapshot {
		t.Error("PruneUpdatesOnSnapshot default should be true")
	}
	if cfg.AwarenessEcho {
		t.Error("AwarenessEcho default should be false")
	}
	if cfg.MaxSessionsPerDoc != 64 {
		t.Errorf("MaxSessionsPerDoc = %d, want 64", cfg.MaxSessionsPerDoc)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOC_ENGINE_ENV", "testing")
	t.Setenv("UPDATE_THRESHOLD", "3")
	t.Setenv("MAX_OUTBOUND_QUEUE", "8")
	t.Setenv("AWARENESS_ECHO", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.UpdateThreshold != 3 {
		t.Errorf("UpdateThreshold = %d, want 3", cfg.UpdateThreshold)
	}
	if cfg.MaxOutboundQueue != 8 {
		t.Errorf("MaxOutboundQueue = %d, want 8", cfg.MaxOutboundQueue)
	}
	if !cfg.AwarenessEcho {
		t.Error("AwarenessEcho should be true")
	}
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("DOC_ENGINE_ENV", "bogus")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid DOC_ENGINE_ENV")
	}
}

func TestValidate_ProductionRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{Env: Production, HTTPPort: 8080, MaxSessionsPerDoc: 64, MaxOutboundQueue: 256, HeartbeatMisses: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without DATABASE_URL in production")
	}
	cfg.DatabaseURL = "postgres://localhost/docs"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidate_RejectsBadLimits(t *testing.T) {
	cfg := &Config{Env: Development, HTTPPort: 8080, MaxSessionsPerDoc: 0, MaxOutboundQueue: 256, HeartbeatMisses: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero MaxSessionsPerDoc")
	}
}
