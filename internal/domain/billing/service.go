package billing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/pkg/metrics"
)

// CreditApplier is the part of the ledger billing needs.
type CreditApplier interface {
	Credit(ctx context.Context, shop string, amount int, kind credit.EntryKind, idempotencyKey, description string) (credit.Result, error)
	Balance(ctx context.Context, shop string) (int, error)
}

type Config struct {
	AppURL   string
	TestMode bool
}

type Service struct {
	store   Store
	gateway Gateway
	ledger  CreditApplier
	catalog *Catalog
	cfg     Config
	now     func() time.Time
}

func NewService(store Store, gateway Gateway, ledger CreditApplier, catalog *Catalog, cfg Config) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		ledger:  ledger,
		catalog: catalog,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ChargeReference is the ledger idempotency key of a charge.
func ChargeReference(chargeID string) string {
	return "charge:" + chargeID
}

// InitiatePurchase prices the request, creates a pending charge at the
// gateway and records it locally. Nothing is created for an invalid quote.
func (s *Service) InitiatePurchase(ctx context.Context, shop, packID string, customAmount int) (*Purchase, error) {
	quote, err := s.catalog.Quote(packID, customAmount)
	if err != nil {
		return nil, err
	}

	returnURL := s.cfg.AppURL + "/billing/callback?" + url.Values{
		"shop": {shop},
		"amt":  {strconv.Itoa(quote.Credits)},
	}.Encode()

	created, err := s.gateway.CreateCharge(ctx, shop, ChargeRequest{
		Name:      quote.Name,
		Price:     quote.Price,
		ReturnURL: returnURL,
		Test:      s.cfg.TestMode,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}

	now := s.now().UTC()
	status := created.Status
	if status == "" {
		status = StatusPending
	}
	charge := &Charge{
		ChargeID:        created.ID,
		ShopKey:         shop,
		PackID:          quote.PackID,
		Credits:         quote.Credits,
		Price:           quote.Price,
		Currency:        s.catalog.Currency,
		Status:          status,
		ConfirmationURL: created.ConfirmationURL,
		Test:            created.Test,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, charge); err != nil {
		return nil, err
	}

	log.Info().
		Str("shop", shop).
		Str("charge_id", charge.ChargeID).
		Str("pack_id", charge.PackID).
		Int("credits", charge.Credits).
		Str("price", charge.Price.StringFixed(2)).
		Msg("purchase initiated")

	return &Purchase{ChargeID: charge.ChargeID, ConfirmationURL: charge.ConfirmationURL}, nil
}

// Reconcile applies an approved charge to the ledger exactly once. The stored
// charge decides the credits; creditsToGrant is only used for charges with no
// local record, and then must match the gateway price.
func (s *Service) Reconcile(ctx context.Context, chargeID, shop string, creditsToGrant int) (*Reconciliation, error) {
	rec, err := s.reconcile(ctx, chargeID, shop, creditsToGrant)

	outcome := "applied"
	switch {
	case err == nil && rec.Duplicate:
		outcome = "duplicate"
	case errors.Is(err, ErrChargeNotApproved):
		outcome = "pending"
	case errors.Is(err, ErrChargeDeclined):
		outcome = "declined"
	case errors.Is(err, ErrChargeNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "failed"
	}
	metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()

	return rec, err
}

func (s *Service) reconcile(ctx context.Context, chargeID, shop string, creditsToGrant int) (*Reconciliation, error) {
	if _, err := strconv.ParseInt(chargeID, 10, 64); err != nil {
		return nil, ErrInvalidChargeID
	}

	local, err := s.store.Get(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if local != nil && local.ShopKey != shop {
		return nil, ErrChargeNotFound
	}

	if local != nil && local.Applied() {
		balance, err := s.ledger.Balance(ctx, shop)
		if err != nil {
			return nil, err
		}
		log.Info().Str("shop", shop).Str("charge_id", chargeID).Msg("charge already reconciled")
		return &Reconciliation{ChargeID: chargeID, Credits: local.Credits, Balance: balance, Duplicate: true}, nil
	}

	remote, err := s.gateway.FindCharge(ctx, shop, chargeID)
	if err != nil {
		if errors.Is(err, ErrChargeNotFound) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}

	if local == nil {
		local, err = s.adopt(ctx, shop, remote, creditsToGrant)
		if err != nil {
			return nil, err
		}
	}

	switch remote.Status {
	case StatusActive:
	case StatusAccepted:
		if err := s.gateway.ActivateCharge(ctx, shop, chargeID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
		}
	case StatusDeclined, StatusExpired:
		if err := s.store.UpdateStatus(ctx, chargeID, remote.Status); err != nil {
			return nil, err
		}
		return nil, ErrChargeDeclined
	default:
		return nil, ErrChargeNotApproved
	}

	res, err := s.ledger.Credit(ctx, shop, local.Credits, credit.KindPurchase, ChargeReference(chargeID),
		fmt.Sprintf("%s (%s %s)", local.PackID, local.Price.StringFixed(2), local.Currency))
	if err != nil {
		return nil, err
	}

	if err := s.store.MarkApplied(ctx, chargeID, s.now().UTC()); err != nil {
		return nil, err
	}

	log.Info().
		Str("shop", shop).
		Str("charge_id", chargeID).
		Int("credits", local.Credits).
		Int("balance", res.Balance).
		Bool("duplicate", !res.Applied).
		Msg("charge reconciled")

	return &Reconciliation{
		ChargeID:  chargeID,
		Credits:   local.Credits,
		Balance:   res.Balance,
		Duplicate: !res.Applied,
	}, nil
}

// adopt records a gateway charge this instance never stored, pricing the
// claimed credits through the catalog so a forged amount cannot be credited.
func (s *Service) adopt(ctx context.Context, shop string, remote *GatewayCharge, credits int) (*Charge, error) {
	if credits <= 0 {
		return nil, ErrChargeNotFound
	}
	quote, err := s.catalog.Quote("", credits)
	if err != nil {
		return nil, ErrAmountMismatch
	}
	if !quote.Price.Equal(remote.Price) {
		return nil, ErrAmountMismatch
	}

	now := s.now().UTC()
	c := &Charge{
		ChargeID:        remote.ID,
		ShopKey:         shop,
		PackID:          quote.PackID,
		Credits:         quote.Credits,
		Price:           quote.Price,
		Currency:        s.catalog.Currency,
		Status:          remote.Status,
		ConfirmationURL: remote.ConfirmationURL,
		Test:            remote.Test,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SweepPending reconciles charges whose callback never arrived.
func (s *Service) SweepPending(ctx context.Context, olderThan time.Duration, limit int) (SweepResult, error) {
	var result SweepResult

	charges, err := s.store.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return result, err
	}

	for _, c := range charges {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++

		_, err := s.Reconcile(ctx, c.ChargeID, c.ShopKey, c.Credits)
		switch {
		case err == nil:
			result.Applied++
		case errors.Is(err, ErrChargeNotApproved):
			result.Pending++
		case errors.Is(err, ErrChargeDeclined):
			result.Declined++
		case errors.Is(err, ErrChargeNotFound):
			if uerr := s.store.UpdateStatus(ctx, c.ChargeID, StatusExpired); uerr != nil {
				log.Error().Err(uerr).Str("charge_id", c.ChargeID).Msg("failed to expire unknown charge")
			}
			result.Declined++
		default:
			result.Failed++
			log.Warn().Err(err).Str("shop", c.ShopKey).Str("charge_id", c.ChargeID).Msg("sweep reconcile failed")
		}
	}

	return result, nil
}

// Erase removes every charge of shop.
func (s *Service) Erase(ctx context.Context, shop string) error {
	return s.store.DeleteByShop(ctx, shop)
}
