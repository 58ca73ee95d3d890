package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fitroom/fitroom-api/internal/config"
	"github.com/fitroom/fitroom-api/internal/domain/shop"
)

func TestOpenBoltSharesOneFile(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		StoreDriver: config.StoreBolt,
		BoltPath:    filepath.Join(t.TempDir(), "fitroom.db"),
	}

	set, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer set.Close()

	if set.Driver != config.StoreBolt {
		t.Fatalf("expected bolt driver, got %q", set.Driver)
	}

	if _, err := set.Credits.Open(ctx, "a.myshopify.com", 10); err != nil {
		t.Fatalf("credits open: %v", err)
	}
	st := shop.DefaultSettings("a.myshopify.com", 5)
	if err := set.Shops.SaveSettings(ctx, &st); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	pending, err := set.Charges.ListPending(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending charges, got %d", len(pending))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{StoreDriver: "mongo"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMemoryClose(t *testing.T) {
	set := Memory()
	set.Close()
}
