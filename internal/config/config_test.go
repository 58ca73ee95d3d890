package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WELCOME_CREDITS", "")
	t.Setenv("INFERENCE_TIMEOUT", "not-a-duration")
	t.Setenv("STORE_DRIVER", "BOLT")
	t.Setenv("APP_URL", "https://fitroom.example.com/")

	cfg := Load()

	if cfg.WelcomeCredits != 10 {
		t.Fatalf("expected welcome credits 10, got %d", cfg.WelcomeCredits)
	}
	if cfg.InferenceTimeout != 90*time.Second {
		t.Fatalf("expected default inference timeout, got %s", cfg.InferenceTimeout)
	}
	if cfg.StoreDriver != StoreBolt {
		t.Fatalf("expected store driver to be lower-cased, got %q", cfg.StoreDriver)
	}
	if cfg.AppURL != "https://fitroom.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.AppURL)
	}
	if cfg.CustomMinCredits != 200 {
		t.Fatalf("expected custom minimum 200, got %d", cfg.CustomMinCredits)
	}
}

func TestParseStringSlice(t *testing.T) {
	got := parseStringSlice(" read_products, ,write_script_tags ")
	if len(got) != 2 || got[0] != "read_products" || got[1] != "write_script_tags" {
		t.Fatalf("unexpected slice: %#v", got)
	}
	if out := parseStringSlice(""); len(out) != 0 {
		t.Fatalf("expected empty slice, got %#v", out)
	}
}
