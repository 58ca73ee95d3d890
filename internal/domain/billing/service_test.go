package billing

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/pkg/database"
)

const testShop = "demo.myshopify.com"

type fakeGateway struct {
	mu        sync.Mutex
	nextID    int64
	charges   map[string]*GatewayCharge
	activated []string
	createErr error
	findErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextID: 1000, charges: make(map[string]*GatewayCharge)}
}

func (g *fakeGateway) CreateCharge(ctx context.Context, shop string, req ChargeRequest) (*GatewayCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	id := strconv.FormatInt(g.nextID, 10)
	c := &GatewayCharge{
		ID:              id,
		Status:          StatusPending,
		Price:           req.Price,
		ConfirmationURL: "https://" + shop + "/admin/charges/" + id + "/confirm",
		Test:            req.Test,
	}
	g.charges[id] = c
	out := *c
	return &out, nil
}

func (g *fakeGateway) FindCharge(ctx context.Context, shop, id string) (*GatewayCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.findErr != nil {
		return nil, g.findErr
	}
	c, ok := g.charges[id]
	if !ok {
		return nil, ErrChargeNotFound
	}
	out := *c
	return &out, nil
}

func (g *fakeGateway) ActivateCharge(ctx context.Context, shop, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.activated = append(g.activated, id)
	g.charges[id].Status = StatusActive
	return nil
}

func (g *fakeGateway) setStatus(id string, status ChargeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[id].Status = status
}

type fixture struct {
	svc     *Service
	gateway *fakeGateway
	ledger  *credit.Ledger
	store   Store
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	gw := newFakeGateway()
	ledger := credit.NewLedger(credit.NewMemoryStore(), 10)
	svc := NewService(store, gw, ledger, testCatalog(), Config{AppURL: "https://app.example.com", TestMode: true})
	return &fixture{svc: svc, gateway: gw, ledger: ledger, store: store}
}

func billingStores(t *testing.T) map[string]Store {
	db, err := database.NewBolt(filepath.Join(t.TempDir(), "billing.db"), Buckets...)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   NewBoltStore(db),
	}
}

func TestInitiatePurchase(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()

	p, err := f.svc.InitiatePurchase(ctx, testShop, "pack_30", 0)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if p.ChargeID == "" || p.ConfirmationURL == "" {
		t.Fatalf("unexpected purchase: %+v", p)
	}

	stored, err := f.store.Get(ctx, p.ChargeID)
	if err != nil || stored == nil {
		t.Fatalf("charge not stored: %v", err)
	}
	if stored.Credits != 30 || stored.Status != StatusPending || !stored.Price.Equal(decimal.RequireFromString("12.99")) {
		t.Fatalf("unexpected stored charge: %+v", stored)
	}
}

func TestInitiatePurchaseErrors(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()

	if _, err := f.svc.InitiatePurchase(ctx, testShop, "custom", 50); !errors.Is(err, ErrCustomBelowMinimum) {
		t.Fatalf("expected ErrCustomBelowMinimum, got %v", err)
	}
	if len(f.gateway.charges) != 0 {
		t.Fatal("no charge may be created for an invalid quote")
	}

	f.gateway.createErr = errors.New("connection reset")
	if _, err := f.svc.InitiatePurchase(ctx, testShop, "pack_10", 0); !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}
}

func TestReconcileLifecycle(t *testing.T) {
	for name, store := range billingStores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)
			ctx := context.Background()

			p, err := f.svc.InitiatePurchase(ctx, testShop, "pack_30", 0)
			if err != nil {
				t.Fatalf("initiate failed: %v", err)
			}

			if _, err := f.svc.Reconcile(ctx, p.ChargeID, testShop, 30); !errors.Is(err, ErrChargeNotApproved) {
				t.Fatalf("expected ErrChargeNotApproved while pending, got %v", err)
			}

			f.gateway.setStatus(p.ChargeID, StatusAccepted)
			rec, err := f.svc.Reconcile(ctx, p.ChargeID, testShop, 9999)
			if err != nil {
				t.Fatalf("reconcile failed: %v", err)
			}
			if rec.Duplicate || rec.Credits != 30 || rec.Balance != 40 {
				t.Fatalf("unexpected reconciliation: %+v", rec)
			}
			if len(f.gateway.activated) != 1 {
				t.Fatalf("expected accepted charge to be activated once, got %v", f.gateway.activated)
			}

			again, err := f.svc.Reconcile(ctx, p.ChargeID, testShop, 30)
			if err != nil {
				t.Fatalf("duplicate reconcile failed: %v", err)
			}
			if !again.Duplicate || again.Balance != 40 {
				t.Fatalf("expected duplicate with unchanged balance, got %+v", again)
			}

			stored, err := store.Get(ctx, p.ChargeID)
			if err != nil || stored == nil || !stored.Applied() {
				t.Fatalf("expected charge marked applied, got %+v, %v", stored, err)
			}
		})
	}
}

func TestReconcileConcurrentCallbacksCreditOnce(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()

	p, err := f.svc.InitiatePurchase(ctx, testShop, "pack_100", 0)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	f.gateway.setStatus(p.ChargeID, StatusActive)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Reconcile(ctx, p.ChargeID, testShop, 100); err != nil {
				t.Errorf("reconcile failed: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, err := f.ledger.Balance(ctx, testShop)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 110 {
		t.Fatalf("expected exactly one credit (110), got %d", balance)
	}
}

func TestReconcileRejections(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()

	p, err := f.svc.InitiatePurchase(ctx, testShop, "pack_10", 0)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	t.Run("invalid id", func(t *testing.T) {
		if _, err := f.svc.Reconcile(ctx, "abc", testShop, 10); !errors.Is(err, ErrInvalidChargeID) {
			t.Fatalf("expected ErrInvalidChargeID, got %v", err)
		}
	})

	t.Run("other shop", func(t *testing.T) {
		if _, err := f.svc.Reconcile(ctx, p.ChargeID, "other.myshopify.com", 10); !errors.Is(err, ErrChargeNotFound) {
			t.Fatalf("expected ErrChargeNotFound, got %v", err)
		}
	})

	t.Run("unknown charge", func(t *testing.T) {
		if _, err := f.svc.Reconcile(ctx, "424242", testShop, 10); !errors.Is(err, ErrChargeNotFound) {
			t.Fatalf("expected ErrChargeNotFound, got %v", err)
		}
	})

	t.Run("gateway down", func(t *testing.T) {
		f.gateway.findErr = errors.New("timeout")
		defer func() { f.gateway.findErr = nil }()
		if _, err := f.svc.Reconcile(ctx, p.ChargeID, testShop, 10); !errors.Is(err, ErrGatewayFailure) {
			t.Fatalf("expected ErrGatewayFailure, got %v", err)
		}
	})

	t.Run("declined", func(t *testing.T) {
		f.gateway.setStatus(p.ChargeID, StatusDeclined)
		if _, err := f.svc.Reconcile(ctx, p.ChargeID, testShop, 10); !errors.Is(err, ErrChargeDeclined) {
			t.Fatalf("expected ErrChargeDeclined, got %v", err)
		}
		balance, _ := f.ledger.Balance(ctx, testShop)
		if balance != 10 {
			t.Fatalf("declined charge must not credit, balance %d", balance)
		}
	})
}

func TestReconcileAdoptsUnknownLocalCharge(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()

	created, err := f.gateway.CreateCharge(ctx, testShop, ChargeRequest{Price: decimal.RequireFromString("4.99")})
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	f.gateway.setStatus(created.ID, StatusActive)

	if _, err := f.svc.Reconcile(ctx, created.ID, testShop, 100); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch for a forged amount, got %v", err)
	}

	rec, err := f.svc.Reconcile(ctx, created.ID, testShop, 10)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Credits != 10 || rec.Balance != 20 {
		t.Fatalf("unexpected reconciliation: %+v", rec)
	}
}

func TestSweepPending(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()

	approved, _ := f.svc.InitiatePurchase(ctx, testShop, "pack_10", 0)
	waiting, _ := f.svc.InitiatePurchase(ctx, testShop, "pack_30", 0)
	declined, _ := f.svc.InitiatePurchase(ctx, testShop, "pack_100", 0)
	f.gateway.setStatus(approved.ChargeID, StatusActive)
	f.gateway.setStatus(declined.ChargeID, StatusDeclined)

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	res, err := f.svc.SweepPending(ctx, 10*time.Minute, 50)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if res.Checked != 3 || res.Applied != 1 || res.Pending != 1 || res.Declined != 1 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}

	pending, err := f.store.ListPending(ctx, time.Now().Add(time.Hour), 50)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ChargeID != waiting.ChargeID {
		t.Fatalf("expected only the waiting charge to stay pending, got %+v", pending)
	}
}
