package generation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/pkg/imaging"
	"github.com/fitroom/fitroom-api/internal/pkg/inference"
	"github.com/fitroom/fitroom-api/internal/pkg/storage"
)

const testShop = "demo.myshopify.com"

type fakeProvider struct {
	mu    sync.Mutex
	calls []inference.Request
	url   string
	err   error
	hook  func()
}

func (p *fakeProvider) Run(ctx context.Context, req inference.Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.hook != nil {
		p.hook()
	}
	if p.err != nil {
		return "", p.err
	}
	return p.url, nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// hangingProvider never answers on its own and returns only when ctx ends.
type hangingProvider struct{}

func (hangingProvider) Run(ctx context.Context, req inference.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type staticLimit int

func (s staticLimit) DailyLimit(ctx context.Context, shop string) (int, error) {
	return int(s), nil
}

// racingLedger reports a balance but loses every debit.
type racingLedger struct{}

func (racingLedger) Balance(ctx context.Context, shop string) (int, error) { return 1, nil }

func (racingLedger) Debit(ctx context.Context, shop string, amount int, reference, description string) (credit.Result, error) {
	return credit.Result{}, credit.ErrInsufficientBalance
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestGate(ledger Ledger, limit int, provider Provider, store storage.Storage) *Gate {
	return NewGate(ledger, staticLimit(limit), NewMemoryLimiter(DefaultWindow), imaging.NewProcessor(imaging.DefaultConfig()), store, provider, Config{InferenceTimeout: time.Second})
}

func validRequest(t *testing.T) Request {
	return Request{
		ShopKey:  testShop,
		ClientIP: "203.0.113.5",
		Person:   Image{Data: testPNG(t), Filename: "me.png"},
		Garment:  Image{URL: "https://cdn.example.com/shirt.jpg"},
	}
}

func TestGateSuccessDebitsOnce(t *testing.T) {
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	provider := &fakeProvider{url: "https://cdn.example.com/result.jpg"}
	gate := newTestGate(ledger, 0, provider, nil)

	res, err := gate.Run(context.Background(), validRequest(t))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.NewCredits != 9 || res.ResultImageURL != provider.url || res.GenerationID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	call := provider.calls[0]
	if !strings.HasPrefix(call.PersonImage, "data:image/jpeg;base64,") {
		t.Fatalf("expected person image as data uri, got %.40s", call.PersonImage)
	}
	if call.GarmentImage != "https://cdn.example.com/shirt.jpg" || call.Category != CategoryUpperBody {
		t.Fatalf("unexpected provider request: %+v", call)
	}

	entries, err := ledger.History(context.Background(), testShop, credit.Pagination{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if entries[0].Reference != "generation:"+res.GenerationID {
		t.Fatalf("expected debit keyed by generation id, got %+v", entries[0])
	}
}

func TestGateRejectsWithoutCredits(t *testing.T) {
	ledger := credit.NewLedger(credit.NewMemoryStore(), 0)
	provider := &fakeProvider{url: "https://cdn.example.com/result.jpg"}
	gate := newTestGate(ledger, 0, provider, nil)

	_, err := gate.Run(context.Background(), validRequest(t))
	if !errors.Is(err, credit.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if provider.count() != 0 {
		t.Fatal("provider must not be called without credits")
	}
}

func TestGateRateLimit(t *testing.T) {
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	provider := &fakeProvider{url: "https://cdn.example.com/result.jpg"}
	gate := newTestGate(ledger, 2, provider, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := gate.Run(ctx, validRequest(t)); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if _, err := gate.Run(ctx, validRequest(t)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	other := validRequest(t)
	other.ClientIP = "198.51.100.1"
	if _, err := gate.Run(ctx, other); err != nil {
		t.Fatalf("another shopper should not be limited: %v", err)
	}

	if provider.count() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", provider.count())
	}
	balance, _ := ledger.Balance(ctx, testShop)
	if balance != 7 {
		t.Fatalf("expected balance 7, got %d", balance)
	}
}

func TestGateProviderFailureDoesNotDebit(t *testing.T) {
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	provider := &fakeProvider{err: inference.ErrTimeout}
	gate := newTestGate(ledger, 0, provider, nil)

	_, err := gate.Run(context.Background(), validRequest(t))
	if !errors.Is(err, ErrProviderFailure) || !errors.Is(err, inference.ErrTimeout) {
		t.Fatalf("expected wrapped provider failure, got %v", err)
	}

	balance, _ := ledger.Balance(context.Background(), testShop)
	if balance != 10 {
		t.Fatalf("expected untouched balance, got %d", balance)
	}
}

func TestGateProviderDeadline(t *testing.T) {
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	gate := NewGate(ledger, staticLimit(0), NewMemoryLimiter(DefaultWindow), imaging.NewProcessor(imaging.DefaultConfig()), nil, hangingProvider{}, Config{InferenceTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := gate.Run(context.Background(), validRequest(t))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("provider call was not bounded, took %s", elapsed)
	}
	if !errors.Is(err, ErrProviderFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected provider failure on deadline, got %v", err)
	}

	balance, _ := ledger.Balance(context.Background(), testShop)
	if balance != 10 {
		t.Fatalf("expected untouched balance, got %d", balance)
	}
}

func TestGateCreditRace(t *testing.T) {
	provider := &fakeProvider{url: "https://cdn.example.com/result.jpg"}
	gate := newTestGate(racingLedger{}, 0, provider, nil)

	if _, err := gate.Run(context.Background(), validRequest(t)); !errors.Is(err, ErrCreditRace) {
		t.Fatalf("expected ErrCreditRace, got %v", err)
	}
}

func TestGateDebitsAfterClientDisconnect(t *testing.T) {
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{url: "https://cdn.example.com/result.jpg", hook: cancel}
	gate := newTestGate(ledger, 0, provider, nil)

	if _, err := gate.Run(ctx, validRequest(t)); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	balance, _ := ledger.Balance(context.Background(), testShop)
	if balance != 9 {
		t.Fatalf("expected debit despite disconnect, got balance %d", balance)
	}
}

func TestGateValidation(t *testing.T) {
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	provider := &fakeProvider{url: "https://cdn.example.com/result.jpg"}
	gate := newTestGate(ledger, 0, provider, nil)

	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"no person", func(r *Request) { r.Person = Image{} }, ErrMissingPerson},
		{"no garment", func(r *Request) { r.Garment = Image{} }, ErrMissingGarment},
		{"bad garment url", func(r *Request) { r.Garment = Image{URL: "ftp://x"} }, ErrInvalidImage},
		{"bad category", func(r *Request) { r.Category = "shoes" }, ErrInvalidCategory},
		{"not an image", func(r *Request) { r.Person = Image{Data: []byte("hello")} }, ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(t)
			tt.mutate(&req)
			if _, err := gate.Run(context.Background(), req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if provider.count() != 0 {
		t.Fatalf("provider must not be called for invalid requests, got %d calls", provider.count())
	}
	balance, _ := ledger.Balance(context.Background(), testShop)
	if balance != 10 {
		t.Fatalf("expected untouched balance, got %d", balance)
	}
}

func TestGateUploadsToStorage(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir(), "https://app.example.com/files")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	provider := &fakeProvider{url: "https://cdn.example.com/result.jpg"}
	gate := newTestGate(ledger, 0, provider, store)

	req := validRequest(t)
	req.Garment = Image{Data: testPNG(t), Filename: "shirt.png"}
	res, err := gate.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	key := "tryon/" + testShop + "/" + res.GenerationID + "/person.jpg"
	if provider.calls[0].PersonImage != store.GetURL(key) {
		t.Fatalf("expected storage url, got %s", provider.calls[0].PersonImage)
	}
	if !strings.HasPrefix(provider.calls[0].GarmentImage, "https://app.example.com/files/tryon/") {
		t.Fatalf("expected garment storage url, got %s", provider.calls[0].GarmentImage)
	}

	ok, err := store.Exists(context.Background(), key)
	if err != nil || ok {
		t.Fatalf("expected inputs removed after the provider call, got %v, %v", ok, err)
	}
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	l := NewMemoryLimiter(DefaultWindow)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "k", 1); !ok {
		t.Fatal("first attempt should pass")
	}
	if ok, _ := l.Allow(ctx, "k", 1); ok {
		t.Fatal("second attempt should be limited")
	}

	now = now.Add(DefaultWindow)
	if ok, _ := l.Allow(ctx, "k", 1); !ok {
		t.Fatal("attempt after the window should pass")
	}
}
