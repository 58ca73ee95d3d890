package shop

import (
	"context"
	"time"
)

const queryTimeout = 3 * time.Second

// Store persists installations and widget settings. Getters return nil, nil
// when the shop has no record.
type Store interface {
	SaveInstallation(ctx context.Context, inst *Installation) error
	GetInstallation(ctx context.Context, shop string) (*Installation, error)
	MarkUninstalled(ctx context.Context, shop string, at time.Time) error

	GetSettings(ctx context.Context, shop string) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error

	// Delete removes both the installation and the settings.
	Delete(ctx context.Context, shop string) error
}
