package shop

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fitroom/fitroom-api/internal/pkg/tokencrypt"
)

// Service manages installations (the Shop OAuth Token Store) and widget
// settings.
type Service struct {
	store        Store
	sealer       *tokencrypt.Sealer
	defaultLimit int
}

func NewService(store Store, sealer *tokencrypt.Sealer, defaultLimit int) *Service {
	return &Service{store: store, sealer: sealer, defaultLimit: defaultLimit}
}

// Install encrypts and stores the offline access token for shop.
func (s *Service) Install(ctx context.Context, shop, accessToken, scope string) error {
	enc, err := s.sealer.Seal(accessToken, shop)
	if err != nil {
		return fmt.Errorf("%w: seal token: %v", ErrInternal, err)
	}

	inst := &Installation{
		ShopKey:        shop,
		AccessTokenEnc: enc,
		Scope:          scope,
		InstalledAt:    time.Now().UTC(),
	}
	if err := s.store.SaveInstallation(ctx, inst); err != nil {
		return err
	}

	log.Info().Str("shop", shop).Str("scope", scope).Msg("shop installed")
	return nil
}

// AccessToken returns the decrypted Admin API token of an installed shop.
func (s *Service) AccessToken(ctx context.Context, shop string) (string, error) {
	inst, err := s.store.GetInstallation(ctx, shop)
	if err != nil {
		return "", err
	}
	if !inst.Active() {
		return "", ErrNotInstalled
	}

	token, err := s.sealer.Open(inst.AccessTokenEnc, shop)
	if err != nil {
		return "", fmt.Errorf("%w: open token: %v", ErrInternal, err)
	}
	return token, nil
}

func (s *Service) IsInstalled(ctx context.Context, shop string) (bool, error) {
	inst, err := s.store.GetInstallation(ctx, shop)
	if err != nil {
		return false, err
	}
	return inst.Active(), nil
}

// MarkUninstalled keeps the record (and the ledger) so a reinstall resumes
// the same balance.
func (s *Service) MarkUninstalled(ctx context.Context, shop string) error {
	if err := s.store.MarkUninstalled(ctx, shop, time.Now().UTC()); err != nil {
		return err
	}
	log.Info().Str("shop", shop).Msg("shop uninstalled")
	return nil
}

// Settings returns the saved settings or the defaults.
func (s *Service) Settings(ctx context.Context, shop string) (Settings, error) {
	st, err := s.store.GetSettings(ctx, shop)
	if err != nil {
		return Settings{}, err
	}
	if st == nil {
		return DefaultSettings(shop, s.defaultLimit), nil
	}
	return *st, nil
}

func (s *Service) UpdateSettings(ctx context.Context, shop string, req SettingsRequest) (Settings, error) {
	st := Settings{
		ShopKey:     shop,
		ButtonText:  req.ButtonText,
		ButtonColor: req.ButtonColor,
		TextColor:   req.TextColor,
		DailyLimit:  int(req.Limit),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveSettings(ctx, &st); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// DailyLimit is the per shopper limit the generation gate applies.
func (s *Service) DailyLimit(ctx context.Context, shop string) (int, error) {
	st, err := s.Settings(ctx, shop)
	if err != nil {
		return 0, err
	}
	return st.DailyLimit, nil
}

// Erase removes the installation and settings.
func (s *Service) Erase(ctx context.Context, shop string) error {
	if err := s.store.Delete(ctx, shop); err != nil {
		return err
	}
	log.Info().Str("shop", shop).Msg("shop data erased")
	return nil
}
